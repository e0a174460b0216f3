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

import (
	"fmt"
	"os"
	"time"

	"github.com/nats-io/jwt/v2"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"
)

// checkCredsFile rejects a creds file whose user JWT has already expired, so
// the agent fails with a clear diagnostic instead of an authorization error.
func checkCredsFile(path string, now time.Time) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read creds file %s: %w", path, err)
	}

	token, err := jwt.ParseDecoratedJWT(contents)
	if err != nil {
		return fmt.Errorf("invalid creds file %s: %w", path, err)
	}

	claims, err := jwt.DecodeUserClaims(token)
	if err != nil {
		return fmt.Errorf("invalid user JWT in %s: %w", path, err)
	}

	if claims.Expires > 0 && now.Unix() >= claims.Expires {
		return fmt.Errorf("%w: %s expired at %s", errCredsExpired, path,
			time.Unix(claims.Expires, 0).UTC().Format(time.RFC3339))
	}

	return nil
}

// nkeyOption authenticates with the user nkey seed stored at path.
func nkeyOption(path string) (nats.Option, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read nkey seed %s: %w", path, err)
	}

	kp, err := nkeys.ParseDecoratedNKey(contents)
	if err != nil {
		return nil, fmt.Errorf("invalid nkey seed %s: %w", path, err)
	}

	pub, err := kp.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("invalid nkey seed %s: %w", path, err)
	}

	if !nkeys.IsValidPublicUserKey(pub) {
		return nil, fmt.Errorf("%w: %s", errNotUserNkey, path)
	}

	return nats.Nkey(pub, kp.Sign), nil
}
