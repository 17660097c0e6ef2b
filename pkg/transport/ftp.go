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
	"sort"

	"github.com/jlaffaye/ftp"
	"gitlab.com/tozd/go/errors"
)

// 📠 FTP speaks plain FTP for drop servers that never moved to SFTP.
type FTP struct {
	creds Credentials
	conn  *ftp.ServerConn
}

// NewFTP returns an unconnected FTP transport.
func NewFTP(creds Credentials) *FTP {
	return &FTP{creds: creds}
}

func (f *FTP) addr() string {
	port := f.creds.Port
	if port == 0 {
		port = 21
	}
	return fmt.Sprintf("%s:%d", f.creds.Host, port)
}

func (f *FTP) Connect(ctx context.Context) error {
	conn, err := ftp.Dial(f.addr(),
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(DefaultTimeout),
	)
	if err != nil {
		return errors.Errorf("%w: dialing %s: %w", ErrConnect, f.addr(), err)
	}
	if err := conn.Login(f.creds.Username, f.creds.Password); err != nil {
		_ = conn.Quit()
		return errors.Errorf("%w: %w", ErrAuth, err)
	}
	f.conn = conn
	return nil
}

func (f *FTP) ListFiles(ctx context.Context, dir string) ([]string, error) {
	if f.conn == nil {
		return nil, errors.Errorf("%w: not connected", ErrList)
	}
	entries, err := f.conn.List(dir)
	if err != nil {
		return nil, errors.Errorf("%w: %s: %w", ErrList, dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type == ftp.EntryTypeFile {
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (f *FTP) Fetch(ctx context.Context, remotePath, localPath string) error {
	if f.conn == nil {
		return errors.Errorf("%w: not connected", ErrFetch)
	}

	resp, err := f.conn.Retr(remotePath)
	if err != nil {
		return errors.Errorf("%w: %s: %w", ErrFetch, remotePath, err)
	}
	defer resp.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return errors.Errorf("%w: creating %s: %w", ErrFetch, localPath, err)
	}
	if _, err := io.Copy(dst, resp); err != nil {
		_ = dst.Close()
		_ = os.Remove(localPath)
		return errors.Errorf("%w: %s: %w", ErrFetch, remotePath, err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(localPath)
		return errors.Errorf("%w: closing %s: %w", ErrFetch, localPath, err)
	}
	return nil
}

func (f *FTP) Delete(ctx context.Context, remotePath string) error {
	if f.conn == nil {
		return errors.Errorf("%w: not connected", ErrDelete)
	}
	if err := f.conn.Delete(remotePath); err != nil {
		return errors.Errorf("%w: %s: %w", ErrDelete, remotePath, err)
	}
	return nil
}

func (f *FTP) Close() error {
	if f.conn == nil {
		return nil
	}
	err := f.conn.Quit()
	f.conn = nil
	return err
}

var _ Transport = (*FTP)(nil)
