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
	"io"
	"os"
	"path"
	"sort"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/crypto/ssh"
)

// 🔐 SFTP speaks SFTP over password-authenticated SSH.
type SFTP struct {
	creds  Credentials
	client *sftp.Client
	conn   *ssh.Client
}

// NewSFTP returns an unconnected SFTP transport.
func NewSFTP(creds Credentials) *SFTP {
	return &SFTP{creds: creds}
}

func (s *SFTP) addr() string {
	port := s.creds.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", s.creds.Host, port)
}

func (s *SFTP) Connect(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	cfg := &ssh.ClientConfig{
		User: s.creds.Username,
		Auth: []ssh.AuthMethod{ssh.Password(s.creds.Password)},
		// The drop server lives on a closed network; host keys are not
		// pinned there either.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         DefaultTimeout,
	}

	conn, err := ssh.Dial("tcp", s.addr(), cfg)
	if err != nil {
		return s.classifyDialError(err)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return errors.Errorf("%w: starting sftp subsystem: %w", ErrConnect, err)
	}

	s.conn = conn
	s.client = client
	logger.Debug().Str("host", s.addr()).Msg("sftp session established")
	return nil
}

// classifyDialError separates rejected credentials from plain connection
// failures. ssh.Dial wraps the handshake failure, so the auth error has to be
// unwrapped out of it.
func (s *SFTP) classifyDialError(err error) error {
	var authErr *ssh.ServerAuthError
	if errors.As(err, &authErr) {
		return errors.Errorf("%w: %w", ErrAuth, err)
	}
	return errors.Errorf("%w: dialing %s: %w", ErrConnect, s.addr(), err)
}

func (s *SFTP) ListFiles(ctx context.Context, dir string) ([]string, error) {
	if s.client == nil {
		return nil, errors.Errorf("%w: not connected", ErrList)
	}
	entries, err := s.client.ReadDir(dir)
	if err != nil {
		return nil, errors.Errorf("%w: %s: %w", ErrList, dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Mode().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *SFTP) Fetch(ctx context.Context, remotePath, localPath string) error {
	if s.client == nil {
		return errors.Errorf("%w: not connected", ErrFetch)
	}

	src, err := s.client.Open(remotePath)
	if err != nil {
		return errors.Errorf("%w: %s: %w", ErrFetch, remotePath, err)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return errors.Errorf("%w: creating %s: %w", ErrFetch, localPath, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(localPath)
		return errors.Errorf("%w: %s: %w", ErrFetch, remotePath, err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(localPath)
		return errors.Errorf("%w: closing %s: %w", ErrFetch, localPath, err)
	}

	zerolog.Ctx(ctx).Debug().Str("file", path.Base(remotePath)).Msg("fetched")
	return nil
}

func (s *SFTP) Delete(ctx context.Context, remotePath string) error {
	if s.client == nil {
		return errors.Errorf("%w: not connected", ErrDelete)
	}
	if err := s.client.Remove(remotePath); err != nil {
		return errors.Errorf("%w: %s: %w", ErrDelete, remotePath, err)
	}
	return nil
}

func (s *SFTP) Close() error {
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

var _ Transport = (*SFTP)(nil)
