package node

import (
	"context"

	"github.com/marmos91/dittofs/pkg/cryptoctx"
	"github.com/marmos91/dittofs/pkg/serialize"
)

func storeSettings(ctx context.Context, cc cryptoctx.Context, basename string, rec *nodeSettingsRecord) error {
	return serialize.Write(ctx, cc, basename, nodeSettingsVersion, rec)
}

func loadSettings(ctx context.Context, cc cryptoctx.Context, basename string, rec *nodeSettingsRecord) (uint32, error) {
	return serialize.Read(ctx, cc, basename, nodeSettingsVersion, rec)
}
