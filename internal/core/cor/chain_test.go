// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/cor"
)

type addCommand struct {
	cor.BaseCommand
	n    int
	fail bool
	runs *int
}

func newAdd(name string, n int, runs *int) *addCommand {
	return &addCommand{BaseCommand: *cor.NewBaseCommand(name), n: n, runs: runs}
}

func (c *addCommand) Execute(context cor.Context) {
	*c.runs++
	if c.fail {
		c.Fail(context, errors.New("boom"))
		return
	}
	in, _ := cor.Value[int](context, c.GetInputParam())
	c.Succeed(context, in+c.n)
}

func newContext(in any) cor.Context {
	c := cor.NewBaseContext()
	c.SetContext(context.Background())
	if in != nil {
		c.Add(cor.CtxIn, in)
	}
	return c
}

func TestChainPipesOutputToInput(t *testing.T) {
	runs := 0
	chain := cor.NewBaseChain("pipe").
		AddCommand(newAdd("one", 1, &runs)).
		AddCommand(newAdd("ten", 10, &runs))

	c := newContext(5)
	chain.Execute(c)

	assert.False(t, c.HasErrors())
	assert.Equal(t, 2, runs)
	out, ok := cor.Value[int](c, cor.CtxIn)
	require.True(t, ok)
	assert.Equal(t, 16, out)
	assert.Nil(t, c.Get(cor.CtxOut))
}

func TestChainStopsAfterFailure(t *testing.T) {
	runs := 0
	failing := newAdd("broken", 0, &runs)
	failing.fail = true
	chain := cor.NewBaseChain("stop").
		AddCommand(failing).
		AddCommand(newAdd("after", 1, &runs))

	c := newContext(1)
	chain.Execute(c)

	assert.True(t, c.HasErrors())
	assert.Equal(t, 1, runs)
	require.Len(t, c.GetErrors(), 1)
	assert.Contains(t, c.GetErrors(), "broken")
}

func TestChainKeepsInputWhenCommandHasNoOutput(t *testing.T) {
	runs := 0
	chain := cor.NewBaseChain("passthrough").
		AddCommand(&skipCommand{BaseCommand: *cor.NewBaseCommand("skip")}).
		AddCommand(newAdd("after", 3, &runs))

	c := newContext(4)
	chain.Execute(c)

	assert.False(t, c.HasErrors())
	assert.Equal(t, 1, runs)
	out, ok := cor.Value[int](c, cor.CtxIn)
	require.True(t, ok)
	assert.Equal(t, 7, out)
}

type skipCommand struct {
	cor.BaseCommand
}

func (c *skipCommand) Execute(context cor.Context) {
	c.Succeed(context, nil)
}

func TestChainRecordsMissingInput(t *testing.T) {
	runs := 0
	chain := cor.NewBaseChain("missing").AddCommand(newAdd("needs-input", 1, &runs))

	c := newContext(nil)
	chain.Execute(c)

	assert.Equal(t, 0, runs)
	require.Contains(t, c.GetErrors(), "needs-input")
	assert.ErrorContains(t, c.GetErrors()["needs-input"], "not executable")
}

type parentKey struct{}

func TestChainRestoresParentContext(t *testing.T) {
	runs := 0
	parent := context.WithValue(context.Background(), parentKey{}, "parent")
	c := cor.NewBaseContext()
	c.SetContext(parent)
	c.Add(cor.CtxIn, 0)

	cor.NewBaseChain("restore").AddCommand(newAdd("one", 1, &runs)).Execute(c)
	assert.Equal(t, parent, c.GetContext())
}

func TestContextCloseRemovesTempFiles(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "upload.mp4")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	c := cor.NewBaseContext()
	c.AddTempFile(file)
	c.AddTempFile(filepath.Join(dir, "never-created"))
	c.Close()

	_, err := os.Stat(file)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValueTypeMismatch(t *testing.T) {
	c := cor.NewBaseContext()
	c.Add("k", "text")
	_, ok := cor.Value[int](c, "k")
	assert.False(t, ok)
	s, ok := cor.Value[string](c, "k")
	assert.True(t, ok)
	assert.Equal(t, "text", s)
}
