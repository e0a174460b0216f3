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
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/jwt/v2"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/runtime-agent/pkg/logger"
	"github.com/carverauto/runtime-agent/pkg/models"
)

func writeCreds(t *testing.T, expires time.Time) string {
	t.Helper()

	akp, err := nkeys.CreateAccount()
	require.NoError(t, err)

	ukp, err := nkeys.CreateUser()
	require.NoError(t, err)

	upub, err := ukp.PublicKey()
	require.NoError(t, err)

	claims := jwt.NewUserClaims(upub)
	if !expires.IsZero() {
		claims.Expires = expires.Unix()
	}

	token, err := claims.Encode(akp)
	require.NoError(t, err)

	seed, err := ukp.Seed()
	require.NoError(t, err)

	creds, err := jwt.FormatUserConfig(token, seed)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "agent.creds")
	require.NoError(t, os.WriteFile(path, creds, 0o600))

	return path
}

func writeSeed(t *testing.T, kp nkeys.KeyPair) string {
	t.Helper()

	seed, err := kp.Seed()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "agent.nk")
	require.NoError(t, os.WriteFile(path, seed, 0o600))

	return path
}

func TestCheckCredsFile(t *testing.T) {
	t.Parallel()

	now := time.Now()

	require.NoError(t, checkCredsFile(writeCreds(t, time.Time{}), now))
	require.NoError(t, checkCredsFile(writeCreds(t, now.Add(time.Hour)), now))

	err := checkCredsFile(writeCreds(t, now.Add(-time.Hour)), now)
	require.ErrorIs(t, err, errCredsExpired)

	garbage := filepath.Join(t.TempDir(), "garbage.creds")
	require.NoError(t, os.WriteFile(garbage, []byte("not a creds file"), 0o600))
	require.Error(t, checkCredsFile(garbage, now))

	err = checkCredsFile(filepath.Join(t.TempDir(), "missing.creds"), now)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestNkeyOptionRejectsNonUserSeed(t *testing.T) {
	t.Parallel()

	akp, err := nkeys.CreateAccount()
	require.NoError(t, err)

	_, err = nkeyOption(writeSeed(t, akp))
	require.ErrorIs(t, err, errNotUserNkey)

	ukp, err := nkeys.CreateUser()
	require.NoError(t, err)

	opt, err := nkeyOption(writeSeed(t, ukp))
	require.NoError(t, err)
	assert.NotNil(t, opt)
}

func TestNATSClientExpiredCredsFailLogin(t *testing.T) {
	t.Parallel()

	client := NewNATSClient(Config{
		URL:       "nats://127.0.0.1:1",
		CredsFile: writeCreds(t, time.Now().Add(-time.Minute)),
	}, logger.NewTestLogger())

	err := client.Connect(context.Background())
	require.ErrorIs(t, err, ErrLoginFailed)
	require.ErrorIs(t, err, errCredsExpired)
	assert.Equal(t, StateFailed, client.State())
}

func TestNATSClientNkeyAuthentication(t *testing.T) {
	t.Parallel()

	ukp, err := nkeys.CreateUser()
	require.NoError(t, err)

	upub, err := ukp.PublicKey()
	require.NoError(t, err)

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
		Nkeys:     []*server.NkeyUser{{Nkey: upub}},
	}

	srv := runJetStreamServer(t, opts)
	t.Cleanup(srv.Shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := NewNATSClient(Config{
		URL:            srv.ClientURL(),
		Bucket:         "nkey-registry",
		NkeySeedFile:   writeSeed(t, ukp),
		ConnectTimeout: models.Duration(2 * time.Second),
	}, logger.NewTestLogger())
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.ListAdd(ctx, DefaultListKey, "a"))

	stranger, err := nkeys.CreateUser()
	require.NoError(t, err)

	rejected := NewNATSClient(Config{
		URL:            srv.ClientURL(),
		Bucket:         "nkey-registry",
		NkeySeedFile:   writeSeed(t, stranger),
		ConnectTimeout: models.Duration(2 * time.Second),
		MaxReconnects:  new(int),
	}, logger.NewTestLogger())
	t.Cleanup(func() { _ = rejected.Close() })

	require.ErrorIs(t, rejected.Connect(ctx), ErrLoginFailed)
}
