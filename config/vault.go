// Copyright 2023 Versity Software
// This file is licensed under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	vault "github.com/hashicorp/vault-client-go"
	"github.com/hashicorp/vault-client-go/schema"
	"github.com/versity/s3compat/s3err"
)

const vaultTimeout = 10 * time.Second

// Vault locates S3 credentials stored as a KV v2 secret.
type Vault struct {
	Address    string `ini:"address" yaml:"address"`
	Token      string `ini:"token" yaml:"token"`
	RoleID     string `ini:"role_id" yaml:"role_id"`
	RoleSecret string `ini:"role_secret" yaml:"role_secret"`
	// AuthMount is the approle mount, "approle" when empty.
	AuthMount string `ini:"auth_mount" yaml:"auth_mount"`
	// Mount is the KV v2 engine mount.
	Mount      string `ini:"mount" yaml:"mount"`
	SecretPath string `ini:"secret_path" yaml:"secret_path"`
	ServerCert string `ini:"server_cert" yaml:"server_cert"`
}

func (v Vault) enabled() bool { return v.Address != "" }

// secretReader is the part of the vault client used to fetch the secret.
type secretReader func(ctx context.Context, path string) (map[string]any, error)

// ResolveCredentials fills the access and secret keys from Vault when a
// Vault address is configured. Keys already set in the file or the
// environment win.
func (c *Config) ResolveCredentials(ctx context.Context) error {
	if !c.Vault.enabled() || (c.Connection.AccessKey != "" && c.Connection.SecretKey != "") {
		return nil
	}
	read, err := c.Vault.client(ctx)
	if err != nil {
		return s3err.New(s3err.ErrConfiguration, "vault", err)
	}
	return c.applySecret(ctx, read)
}

func (c *Config) applySecret(ctx context.Context, read secretReader) error {
	data, err := read(ctx, c.Vault.SecretPath)
	if err != nil {
		return s3err.New(s3err.ErrConfiguration, "vault", fmt.Errorf("read %v: %w", c.Vault.SecretPath, err))
	}

	for key, dst := range map[string]*string{
		"access_key": &c.Connection.AccessKey,
		"secret_key": &c.Connection.SecretKey,
	} {
		if *dst != "" {
			continue
		}
		v, ok := data[key].(string)
		if !ok || v == "" {
			return s3err.Errorf(s3err.ErrConfiguration, "vault", "secret %v has no string %q", c.Vault.SecretPath, key)
		}
		*dst = v
	}
	return nil
}

func (v Vault) client(ctx context.Context) (secretReader, error) {
	opts := []vault.ClientOption{
		vault.WithAddress(v.Address),
		vault.WithRequestTimeout(vaultTimeout),
	}
	if v.ServerCert != "" {
		tls := vault.TLSConfiguration{}
		tls.ServerCertificate.FromFile = v.ServerCert
		opts = append(opts, vault.WithTLS(tls))
	}

	client, err := vault.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("init vault client: %w", err)
	}

	switch {
	case v.Token != "":
		if err := client.SetToken(v.Token); err != nil {
			return nil, fmt.Errorf("token authentication failure: %w", err)
		}
	case v.RoleID != "":
		if v.RoleSecret == "" {
			return nil, errors.New("role id and role secret must both be specified")
		}
		var authOpts []vault.RequestOption
		if v.AuthMount != "" {
			authOpts = append(authOpts, vault.WithMountPath(v.AuthMount))
		}
		lctx, cancel := context.WithTimeout(ctx, vaultTimeout)
		resp, err := client.Auth.AppRoleLogin(lctx, schema.AppRoleLoginRequest{
			RoleId:   v.RoleID,
			SecretId: v.RoleSecret,
		}, authOpts...)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("approle authentication failure: %w", err)
		}
		if err := client.SetToken(resp.Auth.ClientToken); err != nil {
			return nil, fmt.Errorf("approle authentication set token failure: %w", err)
		}
	default:
		return nil, errors.New("vault authentication requires either role_id/role_secret or token")
	}

	var kvOpts []vault.RequestOption
	if v.Mount != "" {
		kvOpts = append(kvOpts, vault.WithMountPath(v.Mount))
	}
	return func(ctx context.Context, path string) (map[string]any, error) {
		ctx, cancel := context.WithTimeout(ctx, vaultTimeout)
		defer cancel()
		resp, err := client.Secrets.KvV2Read(ctx, path, kvOpts...)
		if err != nil {
			return nil, err
		}
		return resp.Data.Data, nil
	}, nil
}
