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

// Package transport fetches batch files from the remote drop server. SFTP is
// the primary protocol; plain FTP survives for legacy drop servers.
package transport

import (
	"context"
	"time"

	"gitlab.com/tozd/go/errors"
)

// Error kinds, so callers can tell an unreachable server from bad
// credentials or a single failed download.
var (
	ErrConnect = errors.Base("cannot reach remote server")
	ErrAuth    = errors.Base("authentication rejected")
	ErrList    = errors.Base("cannot list remote directory")
	ErrFetch   = errors.Base("cannot fetch remote file")
	ErrDelete  = errors.Base("cannot delete remote file")
)

// DefaultTimeout bounds connection establishment.
const DefaultTimeout = 30 * time.Second

// Credentials identifies the account on the drop server.
type Credentials struct {
	Host     string
	Port     int
	Username string
	Password string
}

// 🚚 Transport is one connection to the remote drop server. Connect must be
// called before any other method; Close releases the connection and is safe
// on a transport that never connected.
type Transport interface {
	Connect(ctx context.Context) error

	// ListFiles returns the names (not paths) of the regular files in the
	// remote directory.
	ListFiles(ctx context.Context, dir string) ([]string, error)

	// Fetch downloads one remote file to the local path. On failure no
	// partial local file is left behind.
	Fetch(ctx context.Context, remotePath, localPath string) error

	Delete(ctx context.Context, remotePath string) error

	Close() error
}

// New returns the transport for the given protocol name: "sftp" or "ftp".
func New(protocol string, creds Credentials) (Transport, error) {
	switch protocol {
	case "sftp":
		return NewSFTP(creds), nil
	case "ftp":
		return NewFTP(creds), nil
	default:
		return nil, errors.Errorf("unsupported transfer protocol %q", protocol)
	}
}
