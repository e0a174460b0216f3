/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package registry

import "errors"

var (
	ErrLoginFailed      = errors.New("registry login failed")
	ErrWriteFailed      = errors.New("registry write failed")
	ErrDeleteFailed     = errors.New("registry delete failed")
	ErrListUpdateFailed = errors.New("registry list update failed")
	ErrNotConnected     = errors.New("registry not connected")
	ErrCorruptList      = errors.New("registry list is not a JSON string array")

	errURLRequired      = errors.New("registry url is required")
	errInvalidURLScheme = errors.New("registry url scheme must be nats, tls, ws or wss")
	errInvalidBucket    = errors.New("invalid bucket name")
	errInvalidListKey   = errors.New("invalid list key")
	errInvalidStorage   = errors.New("storage must be file or memory")
	errInvalidReplicas  = errors.New("replicas must be between 1 and 5")
	errInvalidSecurity  = errors.New("invalid security mode")
	errCredsConflict    = errors.New("only one of user/password, token, creds_file or nkey_seed_file may be set")
	errCredsExpired     = errors.New("registry credentials expired")
	errNotUserNkey      = errors.New("nkey seed is not a user key")
)
