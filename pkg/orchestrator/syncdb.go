package orchestrator

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/arch-repo-builder/arb/pkg/alpm"
	"github.com/arch-repo-builder/arb/pkg/archive"
	"github.com/arch-repo-builder/arb/pkg/errs"
	"github.com/arch-repo-builder/arb/pkg/release"
)

// LoadSyncDBs opens every repo section paconf declares (skipping
// "options" and the synthetic local-repo section) from the host's
// pacman sync DB cache, the dependency data alpm.Resolve needs.
func LoadSyncDBs(paconf string) ([]*alpm.DB, error) {
	conf, err := release.ParsePacmanConf(paconf)
	if err != nil {
		return nil, err
	}

	var dbs []*alpm.DB

	for _, name := range conf.RepoNames() {
		db, err := loadOneSyncDB(name)
		if err != nil {
			return nil, err
		}

		dbs = append(dbs, db)
	}

	return dbs, nil
}

func loadOneSyncDB(repo string) (*alpm.DB, error) {
	dbPath := filepath.Join("/var/lib/pacman/sync", repo+".db")

	tempDir, err := os.MkdirTemp("", "arb-syncdb-"+repo)
	if err != nil {
		return nil, errs.Wrap(err, errs.IO, "creating sync DB scratch dir")
	}
	defer os.RemoveAll(tempDir)

	if err := archive.Extract(dbPath, tempDir); err != nil {
		return nil, errs.Wrapf(err, errs.IO, "extracting sync DB %s", repo)
	}

	var concatenated []byte

	err = filepath.Walk(tempDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if info.IsDir() || info.Name() != "desc" {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}

		concatenated = append(concatenated, data...)
		concatenated = append(concatenated, '\n')

		return nil
	})
	if err != nil {
		return nil, errs.Wrapf(err, errs.IO, "walking extracted sync DB %s", repo)
	}

	db, err := alpm.ParseDB(repo, bytes.NewReader(concatenated))
	if err != nil {
		return nil, err
	}

	return db, nil
}
