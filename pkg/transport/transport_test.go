// Copyright 2026 the gtafsync authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/crypto/ssh"
)

func TestNew_ProtocolSelection(t *testing.T) {
	creds := Credentials{Host: "drop.example.org", Username: "sync"}

	tr, err := New("sftp", creds)
	require.NoError(t, err)
	assert.IsType(t, &SFTP{}, tr)

	tr, err = New("ftp", creds)
	require.NoError(t, err)
	assert.IsType(t, &FTP{}, tr)

	_, err = New("gopher", creds)
	require.Error(t, err)
}

func TestUnconnectedOperationsFail(t *testing.T) {
	ctx := context.Background()

	for name, tr := range map[string]Transport{
		"sftp": NewSFTP(Credentials{Host: "drop.example.org"}),
		"ftp":  NewFTP(Credentials{Host: "drop.example.org"}),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := tr.ListFiles(ctx, "outbox")
			assert.True(t, errors.Is(err, ErrList))

			err = tr.Fetch(ctx, "outbox/alumnes.csv", t.TempDir()+"/alumnes.csv")
			assert.True(t, errors.Is(err, ErrFetch))

			err = tr.Delete(ctx, "outbox/alumnes.csv")
			assert.True(t, errors.Is(err, ErrDelete))

			// Closing an unconnected transport is a no-op.
			assert.NoError(t, tr.Close())
		})
	}
}

func TestSFTPClassifyDialError(t *testing.T) {
	s := NewSFTP(Credentials{Host: "drop.example.org"})

	// ssh.Dial reports rejected credentials wrapped inside the handshake
	// failure, never as the top-level error.
	rejected := fmt.Errorf("ssh: handshake failed: %w",
		&ssh.ServerAuthError{Errors: []error{fmt.Errorf("ssh: unable to authenticate")}})
	err := s.classifyDialError(rejected)
	assert.True(t, errors.Is(err, ErrAuth))
	assert.False(t, errors.Is(err, ErrConnect))

	err = s.classifyDialError(fmt.Errorf("dial tcp: connection refused"))
	assert.True(t, errors.Is(err, ErrConnect))
	assert.False(t, errors.Is(err, ErrAuth))
}

func TestDefaultPorts(t *testing.T) {
	assert.Equal(t, "h:22", NewSFTP(Credentials{Host: "h"}).addr())
	assert.Equal(t, "h:2222", NewSFTP(Credentials{Host: "h", Port: 2222}).addr())
	assert.Equal(t, "h:21", NewFTP(Credentials{Host: "h"}).addr())
}
