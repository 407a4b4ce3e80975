package qr

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/abdusco/linkpage/internal"
	"github.com/abdusco/linkpage/internal/kv"
	"github.com/abdusco/linkpage/internal/repo"
	"github.com/abdusco/linkpage/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	MinSize     = 64
	MaxSize     = 2048
	DefaultSize = 256
)

// StoragePrefix is the object path prefix of every rendered asset.
const StoragePrefix = "qr"

func AssetKey(variant string) string {
	return "qr:asset:" + variant
}

func OwnerKey(ownerID string) string {
	return "qr:owner:" + ownerID
}

func StoragePath(variant string) string {
	return path.Join(StoragePrefix, variant)
}

type Resolution struct {
	Hash         string            `json:"hash"`
	Variant      string            `json:"variant"`
	CanonicalURL string            `json:"canonical_url"`
	Format       internal.QRFormat `json:"format"`
	Size         int               `json:"size"`
	ServingURL   string            `json:"serving_url"`
	Cached       bool              `json:"cached"`
}

// Cache resolves URLs to rendered QR assets. An asset is rendered at most
// once per variant; concurrent misses in one process share the render.
type Cache struct {
	store    kv.Store
	objects  storage.ObjectStorage
	records  *repo.QRRepo
	renderer Renderer
	group    singleflight.Group
	now      func() time.Time
}

func NewCache(store kv.Store, objects storage.ObjectStorage, records *repo.QRRepo, renderer Renderer) *Cache {
	return &Cache{
		store:    store,
		objects:  objects,
		records:  records,
		renderer: renderer,
		now:      time.Now,
	}
}

// Resolve returns the serving URL of rawURL rendered as format at size
// pixels, rendering and persisting it only on a cache miss.
func (c *Cache) Resolve(ctx context.Context, ownerID, rawURL string, format internal.QRFormat, size int) (Resolution, error) {
	if format != internal.QRFormatPNG && format != internal.QRFormatSVG {
		return Resolution{}, fmt.Errorf("%w: %q", internal.ErrInvalidFormat, format)
	}
	if size < MinSize || size > MaxSize {
		return Resolution{}, fmt.Errorf("%w: %d not in [%d, %d]", internal.ErrInvalidSize, size, MinSize, MaxSize)
	}

	canonical, err := Canonicalize(rawURL)
	if err != nil {
		return Resolution{}, err
	}
	hash := ContentHash(canonical)
	variant := Variant(hash, size, format)

	res := Resolution{
		Hash:         hash,
		Variant:      variant,
		CanonicalURL: canonical,
		Format:       format,
		Size:         size,
	}

	servingURL, found, err := c.store.Get(ctx, AssetKey(variant))
	if err != nil {
		return Resolution{}, fmt.Errorf("look up %s: %w", variant, err)
	}
	if found {
		res.ServingURL = servingURL
		res.Cached = true
		c.associate(ctx, ownerID, variant, nil)
		return res, nil
	}

	v, err, _ := c.group.Do(variant, func() (any, error) {
		return c.render(ctx, res)
	})
	if err != nil {
		return Resolution{}, err
	}

	rendered := v.(internal.QRRecord)
	res.ServingURL = rendered.ServingURL
	c.associate(ctx, ownerID, variant, &rendered)
	return res, nil
}

func (c *Cache) render(ctx context.Context, res Resolution) (internal.QRRecord, error) {
	// Another process may have rendered it since the lookup.
	if servingURL, found, err := c.store.Get(ctx, AssetKey(res.Variant)); err == nil && found {
		return internal.QRRecord{ServingURL: servingURL}, nil
	}

	objectPath := StoragePath(res.Variant)
	body, reused, err := c.existingObject(ctx, objectPath)
	if err != nil {
		return internal.QRRecord{}, err
	}
	if !reused {
		body, err = c.renderer.Render(res.CanonicalURL, res.Format, res.Size)
		if err != nil {
			return internal.QRRecord{}, err
		}
		if err := c.objects.Put(ctx, objectPath, body, res.Format.ContentType()); err != nil {
			return internal.QRRecord{}, fmt.Errorf("store %s: %w", objectPath, err)
		}
	}

	servingURL := c.objects.URL(objectPath)
	if err := c.store.Set(ctx, AssetKey(res.Variant), servingURL); err != nil {
		return internal.QRRecord{}, fmt.Errorf("cache %s: %w", res.Variant, err)
	}

	log.Info().
		Str("variant", res.Variant).
		Str("canonical_url", res.CanonicalURL).
		Int("bytes", len(body)).
		Bool("reused", reused).
		Msg("qr rendered")

	return internal.QRRecord{
		ContentHash:  res.Hash,
		CanonicalURL: res.CanonicalURL,
		Format:       res.Format,
		Size:         res.Size,
		SizeBytes:    int64(len(body)),
		StoragePath:  objectPath,
		ServingURL:   servingURL,
	}, nil
}

// existingObject returns the stored body at objectPath when an earlier
// render uploaded it but never made it into the cache.
func (c *Cache) existingObject(ctx context.Context, objectPath string) ([]byte, bool, error) {
	exists, err := c.objects.Exists(ctx, objectPath)
	if err != nil {
		return nil, false, fmt.Errorf("check %s: %w", objectPath, err)
	}
	if !exists {
		return nil, false, nil
	}
	body, err := c.objects.Get(ctx, objectPath)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", objectPath, err)
	}
	return body, true, nil
}

// associate adds variant to the owner's index and records the owner's
// metadata row. Failures only cost the owner an export entry, so they are
// logged.
func (c *Cache) associate(ctx context.Context, ownerID, variant string, rendered *internal.QRRecord) {
	if ownerID == "" {
		return
	}

	if err := c.store.SAdd(ctx, OwnerKey(ownerID), variant); err != nil {
		log.Warn().Err(err).Str("owner_id", ownerID).Str("variant", variant).Msg("failed to index qr asset")
		return
	}

	var rec internal.QRRecord
	if rendered != nil && rendered.StoragePath != "" {
		rec = *rendered
	} else {
		existing, found, err := c.records.GetVariant(ctx, variant)
		if err != nil || !found {
			if err != nil {
				log.Warn().Err(err).Str("variant", variant).Msg("failed to load qr metadata")
			}
			return
		}
		rec = existing
	}

	rec.ID = uuid.NewString()
	rec.OwnerID = ownerID
	rec.CreatedAt = c.now()
	if err := c.records.Insert(ctx, variant, rec); err != nil {
		log.Warn().Err(err).Str("owner_id", ownerID).Str("variant", variant).Msg("failed to record qr metadata")
	}
}

// Export lists the owner's QR records, newest first.
func (c *Cache) Export(ctx context.Context, ownerID string) ([]internal.QRRecord, error) {
	return c.records.ListByOwner(ctx, ownerID)
}

// ClearAll drops every asset in the owner's index along with the owner's
// metadata. An asset no other owner references is deleted from storage and
// cache too. Each asset is removed best effort; the index is emptied
// regardless and the number of fully removed assets is returned.
func (c *Cache) ClearAll(ctx context.Context, ownerID string) (int, error) {
	variants, err := c.store.SMembers(ctx, OwnerKey(ownerID))
	if err != nil {
		return 0, fmt.Errorf("list qr assets of %s: %w", ownerID, err)
	}

	removed := 0
	for _, variant := range variants {
		if err := c.remove(ctx, ownerID, variant); err != nil {
			log.Warn().Err(err).Str("owner_id", ownerID).Str("variant", variant).Msg("failed to remove qr asset")
			continue
		}
		removed++
	}

	if err := c.store.Del(ctx, OwnerKey(ownerID)); err != nil {
		return removed, fmt.Errorf("clear qr index of %s: %w", ownerID, err)
	}

	log.Info().Str("owner_id", ownerID).Int("removed", removed).Int("indexed", len(variants)).Msg("qr assets cleared")
	return removed, nil
}

func (c *Cache) remove(ctx context.Context, ownerID, variant string) error {
	objectPath := StoragePath(variant)
	if rec, found, err := c.records.GetVariant(ctx, variant); err == nil && found {
		objectPath = rec.StoragePath
	}

	if err := c.records.DeleteOwnerVariant(ctx, ownerID, variant); err != nil {
		return err
	}
	refs, err := c.records.CountVariant(ctx, variant)
	if err != nil {
		return err
	}
	if refs > 0 {
		return nil
	}

	return errors.Join(
		c.objects.Delete(ctx, objectPath),
		c.store.Del(ctx, AssetKey(variant)),
	)
}
