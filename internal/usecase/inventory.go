package usecase

import (
	"sort"

	"github.com/semmidev/stackvault/internal/domain"
)

type Status struct {
	Root          string
	Partitions    int
	Archives      int
	Files         int
	TotalSize     int64
	Latest        map[domain.TargetKind]domain.StoredFile
	LockHolder    string
	RemoteEnabled bool
	RemotePrefix  string
}

// Inventory answers read-only questions about the local store.
type Inventory struct {
	local  LocalStore
	remote *RemoteSync

	// LockHolder describes the current lock holder, "" when unlocked.
	LockHolder func() string
}

func NewInventory(local LocalStore, remote *RemoteSync) *Inventory {
	return &Inventory{local: local, remote: remote}
}

// List returns stored files whose name contains filter, newest first.
func (uc *Inventory) List(filter string) ([]domain.StoredFile, error) {
	return uc.local.List(filter)
}

func (uc *Inventory) Status() (*Status, error) {
	files, err := uc.local.List("")
	if err != nil {
		return nil, err
	}
	partitions, err := uc.local.Partitions()
	if err != nil {
		return nil, err
	}
	archives, err := uc.local.Archives()
	if err != nil {
		return nil, err
	}

	st := &Status{
		Root:          uc.local.Root(),
		Partitions:    len(partitions),
		Archives:      len(archives),
		Files:         len(files),
		Latest:        map[domain.TargetKind]domain.StoredFile{},
		RemoteEnabled: uc.remote.Enabled(),
	}
	if st.RemoteEnabled {
		st.RemotePrefix = uc.remote.Prefix()
	}
	if uc.LockHolder != nil {
		st.LockHolder = uc.LockHolder()
	}

	latestTS := map[domain.TargetKind]string{}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	for _, f := range files {
		st.TotalSize += f.Size
		kind, ts, _, err := domain.ParseArtifactName(f.Name)
		if err != nil {
			continue
		}
		if stamp := ts.Format(domain.TimestampLayout); stamp > latestTS[kind] {
			latestTS[kind] = stamp
			st.Latest[kind] = f
		}
	}
	return st, nil
}
