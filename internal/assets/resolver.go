// Package assets downloads the images referenced by fetched records. The
// Resolver wraps a site fetcher so downloads happen on worker goroutines,
// leaving only disk writes to the result writer.
package assets

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-harvester/internal/harvest"
)

// StoredAssets reports and reads objects already in storage.
type StoredAssets interface {
	Exists(ctx context.Context, path string) (bool, error)
	ReadObject(ctx context.Context, path string) ([]byte, error)
}

// Resolver fills in asset content for successful outcomes. Assets already
// present in storage are not downloaded again; their digest is taken from the
// stored copy. An asset the museum no longer serves is dropped from the
// record instead of failing the object.
type Resolver struct {
	next       harvest.ItemFetcher
	store      StoredAssets
	downloader harvest.Downloader
	hasher     harvest.Hasher
	logger     *zap.Logger
}

// NewResolver wraps next.
func NewResolver(
	next harvest.ItemFetcher,
	store StoredAssets,
	downloader harvest.Downloader,
	hasher harvest.Hasher,
	logger *zap.Logger,
) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		next:       next,
		store:      store,
		downloader: downloader,
		hasher:     hasher,
		logger:     logger.Named("assets"),
	}
}

// Fetch resolves id through the wrapped fetcher, then downloads missing assets.
func (r *Resolver) Fetch(ctx context.Context, id string) harvest.Outcome {
	out := r.next.Fetch(ctx, id)
	if out.Kind != harvest.OutcomeSuccess || out.Record == nil {
		return out
	}

	rec := *out.Record
	rec.Assets = make([]harvest.Asset, 0, len(out.Record.Assets))
	for _, asset := range out.Record.Assets {
		resolved, err := r.resolve(ctx, id, asset)
		if errors.Is(err, errAssetGone) {
			r.logger.Warn("asset could not be downloaded, saving record without it",
				zap.String("object_id", id),
				zap.String("asset", asset.Name),
				zap.Error(err),
			)
			continue
		}
		if err != nil {
			return harvest.Transient(err)
		}
		rec.Assets = append(rec.Assets, resolved)
	}
	return harvest.Success(&rec)
}

var errAssetGone = errors.New("asset gone")

// resolve fills in data and digest for one asset. A download the museum
// refuses for good wraps errAssetGone; every other error is retriable.
func (r *Resolver) resolve(ctx context.Context, id string, asset harvest.Asset) (harvest.Asset, error) {
	exists, err := r.store.Exists(ctx, asset.Name)
	if err != nil {
		return asset, fmt.Errorf("check asset %s: %w", asset.Name, err)
	}
	if exists {
		stored, err := r.store.ReadObject(ctx, asset.Name)
		if err != nil {
			return asset, fmt.Errorf("read stored asset %s: %w", asset.Name, err)
		}
		if asset.SHA256, err = r.hasher.Hash(stored); err != nil {
			return asset, fmt.Errorf("hash asset %s: %w", asset.Name, err)
		}
		r.logger.Debug("asset already stored", zap.String("object_id", id), zap.String("asset", asset.Name))
		return asset, nil
	}

	data, err := r.downloader.Download(ctx, asset.URL)
	if err != nil {
		if harvest.Classify(err).Kind == harvest.OutcomePermanent {
			return asset, fmt.Errorf("download asset %s: %w: %w", asset.Name, errAssetGone, err)
		}
		return asset, fmt.Errorf("download asset %s: %w", asset.Name, err)
	}
	digest, err := r.hasher.Hash(data)
	if err != nil {
		return asset, fmt.Errorf("hash asset %s: %w", asset.Name, err)
	}
	asset.Data = data
	asset.SHA256 = digest
	return asset, nil
}
