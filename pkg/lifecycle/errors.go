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

package lifecycle

import "errors"

var (
	// ErrUncaughtFailure wraps panics and unexpected faults that end the agent.
	ErrUncaughtFailure = errors.New("uncaught failure")
	// ErrRegistrationFailed is returned when the agent could not add itself to the registry list.
	ErrRegistrationFailed = errors.New("registration failed")
	// ErrTriggered is returned by Register when a termination trigger fired first.
	ErrTriggered = errors.New("terminated before registration completed")
	// ErrInvalidState is returned when Register is called more than once.
	ErrInvalidState = errors.New("invalid lifecycle state")
)

var (
	errEmptyListKey   = errors.New("registry list key is empty")
	errEmptyRecordKey = errors.New("registry record key is empty")
)
