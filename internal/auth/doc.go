// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

// Package auth provides authentication primitives for Pharmadiet.
//
// # Domain Types
//
// Users should be created with NewUser, which validates the username,
// normalizes the email and assigns a ULID. Direct struct initialization
// bypasses validation and is reserved for repositories and bootstrap.
//
// # Components
//
//   - CredentialHasher - salted PBKDF2-HMAC-SHA256 password hashing
//   - LockoutPolicy - failure counting and temporary account lockout
//   - SessionRegistry - in-process sessions with a background expiry sweep
//   - TokenService - stateless HS256 bearer tokens
//   - Directory - in-memory UserRepository
//
// # Services
//
// Service composes the components: login, logout, password change and
// permission-checked user management. It publishes an Event for every
// state change on its EventBus.
package auth
