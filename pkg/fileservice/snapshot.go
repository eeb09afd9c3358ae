package fileservice

import (
	"context"

	"github.com/vgshost/core/internal/apperr"
	"github.com/vgshost/core/pkg/dirtree"
	"github.com/vgshost/core/pkg/vfs"
)

// snapshotter resolves the root backend's optional Snapshotter capability,
// per spec.md §6: "snapshot commands [...] available only when the backend
// is content-addressable."
func (s *Service) snapshotter() (vfs.Snapshotter, error) {
	ss, ok := s.resolver.Root().Backend().(vfs.Snapshotter)
	if !ok {
		return nil, apperr.New(apperr.UnsupportedType, "backend does not support snapshots")
	}
	return ss, nil
}

func (s *Service) SnapCreate(_ context.Context, name string) error {
	ss, err := s.snapshotter()
	if err != nil {
		return err
	}
	return ss.CreateSnapshot(context.Background(), name)
}

// SnapCp copies a file out of a named snapshot's tree into the live tree
// at path's containing directory, per SPEC_FULL.md §3's snapshot-command
// grounding ("SNAPCP copies a file out of a named snapshot's tree into the
// live tree"). The caller needs Write on the destination directory.
func (s *Service) SnapCp(ctx context.Context, snapshot, path, user string) error {
	if _, err := s.snapshotter(); err != nil {
		return err
	}
	dir, _, err := s.resolver.ResolveParent(ctx, path, user)
	if err != nil {
		return err
	}
	perm, err := dir.Permission(ctx, user)
	if err != nil {
		return err
	}
	if !perm.Has(dirtree.PermWrite) {
		return apperr.New(apperr.PermissionDenied, "permission denied")
	}
	ss, ok := dir.Backend().(vfs.Snapshotter)
	if !ok {
		return apperr.New(apperr.UnsupportedType, "backend does not support snapshots")
	}
	if err := ss.CopyFromSnapshot(ctx, snapshot, path); err != nil {
		return err
	}
	dir.Forget()
	return nil
}

func (s *Service) SnapRm(_ context.Context, name string) error {
	ss, err := s.snapshotter()
	if err != nil {
		return err
	}
	return ss.RemoveSnapshot(context.Background(), name)
}

func (s *Service) SnapLs(ctx context.Context) ([]string, error) {
	ss, err := s.snapshotter()
	if err != nil {
		return nil, err
	}
	return ss.ListSnapshots(ctx)
}
