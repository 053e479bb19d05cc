package deploy

import (
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/ocmod-labs/ocmodctl/internal/apperr"
	"github.com/ocmod-labs/ocmodctl/internal/archive"
	"github.com/ocmod-labs/ocmodctl/internal/installer"
)

// Unwrap turns a downloaded artifact into an installable package zip inside
// workDir and returns its path.
//
// Artifacts are zips themselves. When the artifact holds zip files the one
// whose base name equals name wins, else the first in lexical order. When it
// holds none but has an upload/ tree, that tree is repacked as the package.
// The artifact and its extraction are removed either way.
func Unwrap(fs afero.Fs, artifactPath, name, workDir string) (string, error) {
	extracted := filepath.Join(workDir, "extracted_"+uuid.NewString())
	defer fs.RemoveAll(extracted)
	defer fs.Remove(artifactPath)

	if err := archive.Extract(fs, artifactPath, extracted); err != nil {
		return "", apperr.Wrap(apperr.Remote, err, "could not open artifact zip")
	}

	zips, err := archive.FindFiles(fs, extracted, ".zip")
	if err != nil {
		return "", err
	}

	final := filepath.Join(workDir, "module_"+uuid.NewString()+".zip")
	if len(zips) > 0 {
		pick := zips[0]
		for _, z := range zips {
			if filepath.Base(z) == name {
				pick = z
				break
			}
		}
		if err := fs.Rename(pick, final); err != nil {
			return "", apperr.Wrap(apperr.IO, err, "moving module zip out of artifact")
		}
		return final, nil
	}

	if ok, _ := afero.DirExists(fs, filepath.Join(extracted, installer.PayloadDir)); ok {
		if _, err := archive.Create(fs, extracted, final); err != nil {
			fs.Remove(final)
			return "", err
		}
		return final, nil
	}

	return "", apperr.New(apperr.Remote, "no module zip inside artifact %q and no %s/ structure", name, installer.PayloadDir)
}
