package fileengine

import (
	"context"
	"fmt"
	"os"

	"github.com/marmos91/dittofs/pkg/cryptoctx"
	"github.com/marmos91/dittofs/pkg/serialize"
)

const metadataVersion uint32 = 1

type serializedSegment struct {
	Offset      uint64 `json:"offset"`
	Size        uint64 `json:"size"`
	BlockNumber uint32 `json:"block_number"`
}

type serializedMetadata struct {
	Created      Event               `json:"created"`
	Modified     Event               `json:"modified"`
	Revision     Revision            `json:"revision"`
	Parent       NodeId              `json:"parent"`
	Type         Type                `json:"file_type"`
	MaxBlockSize uint64              `json:"max_block_size"`
	Segments     []serializedSegment `json:"segments"`
}

// metadataBasename returns the basename metadata is stored under, derived
// from the file's data basename.
func metadataBasename(pathBasename string) string {
	return pathBasename + ".metadata"
}

// blockPath returns the path to block blockNumber's on-disk content.
func blockPath(pathBasename string, blockNumber uint32) string {
	return fmt.Sprintf("%s.block-%d", pathBasename, blockNumber)
}

// existsOnDisk reports whether a file's first block is already present,
// used to distinguish a brand-new node id from a previously persisted file.
func existsOnDisk(pathBasename string) bool {
	_, err := os.Stat(blockPath(pathBasename, 0))
	return err == nil
}

func (m *Metadata) store(ctx context.Context, cc cryptoctx.Context, pathBasename string) error {
	state := serializedMetadata{
		Created:      m.Created,
		Modified:     m.Modified,
		Revision:     m.Revision,
		Parent:       m.Parent,
		Type:         m.Type,
		MaxBlockSize: m.MaxBlockSize,
	}
	for _, b := range m.Blocks {
		state.Segments = append(state.Segments, serializedSegment{
			Offset: b.Offset, Size: b.Size, BlockNumber: b.BlockNumber,
		})
	}
	return serialize.Write(ctx, cc, metadataBasename(pathBasename), metadataVersion, &state)
}

// LoadMetadata reads and decrypts a file's persisted metadata without
// starting its engine, used by pkg/filehandle to answer Properties for a
// file that isn't currently open.
func LoadMetadata(ctx context.Context, cc cryptoctx.Context, pathBasename string) (*Metadata, error) {
	return loadMetadata(ctx, cc, pathBasename)
}

func loadMetadata(ctx context.Context, cc cryptoctx.Context, pathBasename string) (*Metadata, error) {
	var state serializedMetadata
	if _, err := serialize.Read(ctx, cc, metadataBasename(pathBasename), metadataVersion, &state); err != nil {
		return nil, fmt.Errorf("fileengine: load metadata: %w", err)
	}

	m := &Metadata{
		Created:      state.Created,
		Modified:     state.Modified,
		Revision:     state.Revision,
		Parent:       state.Parent,
		Type:         state.Type,
		MaxBlockSize: state.MaxBlockSize,
	}
	for _, s := range state.Segments {
		m.Blocks = append(m.Blocks, Block{Offset: s.Offset, Size: s.Size, BlockNumber: s.BlockNumber})
	}
	if len(m.Blocks) == 0 {
		return nil, fmt.Errorf("fileengine: metadata at %q has no block descriptions", pathBasename)
	}
	return m, nil
}
