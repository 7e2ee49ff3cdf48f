/*
Copyright 2024 Obelisk Labs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package service

import (
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/obelisklabs/beetle/lib/config"
)

func TestConfigDefaultsToAllRoles(t *testing.T) {
	cfg := Config{File: &config.FileConfig{}}
	require.NoError(t, cfg.CheckAndSetDefaults())
	require.Equal(t, AllRoles, cfg.Roles)
	require.NotNil(t, cfg.Clock)
	require.NotNil(t, cfg.Logger)
}

func TestConfigRejectsUnknownRole(t *testing.T) {
	cfg := Config{File: &config.FileConfig{}, Roles: []string{"web", "mailman"}}
	err := cfg.CheckAndSetDefaults()
	require.True(t, trace.IsBadParameter(err))
}

func TestConfigRequiresFile(t *testing.T) {
	cfg := Config{}
	err := cfg.CheckAndSetDefaults()
	require.True(t, trace.IsBadParameter(err))
}
