package snapshot

import (
	"bytes"
	"context"
	"sort"
	"strings"

	"github.com/koustreak/pgcatalog/internal/errs"
	"github.com/koustreak/pgcatalog/internal/filestore"
)

const (
	contentType = "application/yaml"
	extension   = ".yaml"
)

// Repository keeps snapshots in one bucket of a filestore.Store, under an
// optional key prefix.
type Repository struct {
	store  filestore.Store
	bucket string
	prefix string
}

// NewRepository stores snapshots in bucket under the folder prefix; keys
// are <prefix>/<name>.yaml, or <name>.yaml when prefix is empty.
func NewRepository(store filestore.Store, bucket, prefix string) *Repository {
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		prefix += "/"
	}
	return &Repository{store: store, bucket: bucket, prefix: prefix}
}

// Key returns the object key a snapshot called name is stored under.
func (r *Repository) Key(name string) string {
	if !strings.HasSuffix(name, extension) {
		name += extension
	}
	return r.prefix + name
}

// Save encodes doc and uploads it as name, replacing an older snapshot.
func (r *Repository) Save(ctx context.Context, name string, doc *Document) (*filestore.ObjectInfo, error) {
	if name == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "empty snapshot name")
	}
	var buf bytes.Buffer
	if err := Encode(&buf, doc); err != nil {
		return nil, err
	}
	info, err := r.store.PutObject(ctx, r.bucket, r.Key(name), &buf, int64(buf.Len()), contentType)
	if err != nil {
		return nil, errs.Annotate(err, "save snapshot "+name)
	}
	return info, nil
}

// Load downloads and decodes the snapshot called name.
func (r *Repository) Load(ctx context.Context, name string) (*Document, error) {
	obj, err := r.store.GetObject(ctx, r.bucket, r.Key(name))
	if err != nil {
		return nil, errs.Annotate(err, "load snapshot "+name)
	}
	defer obj.Close()
	return Decode(obj)
}

// List returns the stored snapshots, by key.
func (r *Repository) List(ctx context.Context) ([]filestore.ObjectInfo, error) {
	objs, err := r.store.ListObjects(ctx, r.bucket, r.prefix)
	if err != nil {
		return nil, errs.Annotate(err, "list snapshots")
	}
	out := objs[:0]
	for _, o := range objs {
		if strings.HasSuffix(o.Key, extension) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
