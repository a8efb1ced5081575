package app

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// currentJournalVersion is the version of the journal key and entry layout.
const currentJournalVersion = 1

func checkJournalVersion(journalPath string) (doesVersionFileExist bool, err error) {
	versionBytes, err := os.ReadFile(journalVersionFilePath(journalPath))
	if err != nil {
		if os.IsNotExist(err) { // A journal without a version file is new
			return false, nil
		}
		return false, err
	}

	journalVersion, err := strconv.Atoi(strings.TrimSpace(string(versionBytes)))
	if err != nil {
		return true, errors.Wrapf(err, "invalid journal version file in %s", journalPath)
	}
	if journalVersion != currentJournalVersion {
		return true, errors.Errorf("Invalid journal version %d. Expected version: %d. "+
			"Remove %s or start with --nojournal", journalVersion, currentJournalVersion, journalPath)
	}
	return true, nil
}

func createJournalVersionFile(journalPath string) error {
	versionString := strconv.Itoa(currentJournalVersion)
	return os.WriteFile(journalVersionFilePath(journalPath), []byte(versionString), 0600)
}

func journalVersionFilePath(journalPath string) string {
	return filepath.Join(journalPath, "version")
}
