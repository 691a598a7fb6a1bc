package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureAudioReusesExistingFile(t *testing.T) {
	db := newFakeDB(testArticle())
	db.scripts[42] = &AnchoringScript{NewsID: 42, Script: "tonight's top story"}

	gen := NewAudioGenerator(db, t.TempDir())
	existing := gen.AudioPath(42)
	require.NoError(t, writeDummyFile(existing))

	// No provider call should be needed: the asset already exists.
	path, err := gen.EnsureAudio(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, existing, path)
}

func TestEnsureAudioRequiresScript(t *testing.T) {
	db := newFakeDB(testArticle())
	gen := NewAudioGenerator(db, t.TempDir())

	_, err := gen.EnsureAudio(context.Background(), 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no anchoring script")
}

func TestEnsureAudioRejectsEmptyScript(t *testing.T) {
	db := newFakeDB(testArticle())
	db.scripts[42] = &AnchoringScript{NewsID: 42, Script: "   "}
	gen := NewAudioGenerator(db, t.TempDir())

	_, err := gen.EnsureAudio(context.Background(), 42)
	assert.ErrorIs(t, err, ErrEmptyScript)
}
