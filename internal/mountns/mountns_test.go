// Copyright The Symtrace Authors
// SPDX-License-Identifier: Apache-2.0

package mountns

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnterOwnNamespaceRefused(t *testing.T) {
	guard, err := Enter(os.Getpid())
	require.ErrorIs(t, err, ErrSameNamespace)
	assert.Nil(t, guard)
}

func TestEnterMissingProcess(t *testing.T) {
	guard, err := Enter(-1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSameNamespace)
	assert.Nil(t, guard)
}

func TestExitIsIdempotentAndNilSafe(t *testing.T) {
	var g *Guard
	g.Exit()

	zero := &Guard{}
	zero.Exit()
	zero.Exit()
}
