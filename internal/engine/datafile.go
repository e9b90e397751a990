package engine

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Tier names of data files.
const (
	TierLite       = "Lite"
	TierEnterprise = "Enterprise"
)

// StaleAfterDays is the age at which a data file is reported as outdated.
const StaleAfterDays = 28

// DataFileInfo describes the data file an engine was loaded from.
type DataFileInfo struct {
	Path      string    `json:"path"`
	Tier      string    `json:"tier"`
	Published time.Time `json:"published"`
	Ranges    int       `json:"ranges"`
}

// AgeDays returns whole days between publication and now.
func (i DataFileInfo) AgeDays(now time.Time) int {
	if i.Published.IsZero() || now.Before(i.Published) {
		return 0
	}
	return int(now.Sub(i.Published).Hours() / 24)
}

// LogInfo logs where the data came from and warns about Lite or stale data.
func LogInfo(logger *zap.Logger, info DataFileInfo, now time.Time) {
	days := info.AgeDays(now)
	logger.Info("using data file",
		zap.String("tier", info.Tier),
		zap.String("published", info.Published.Format("2006-01-02 15:04:05")),
		zap.Int("days_old", days),
		zap.String("path", info.Path),
		zap.Int("ranges", info.Ranges),
	)
	if info.Tier == TierLite {
		logger.Warn("the Lite data file has limited accuracy and capabilities; " +
			"use an Enterprise data file for representative results")
	}
	if days > StaleAfterDays {
		logger.Warn("data file is outdated, a more recent one may be needed for correct results",
			zap.Int("days_old", days))
	}
}

type rangeRecord struct {
	Network           string `yaml:"network"`
	RegisteredName    string `yaml:"registered_name"`
	RegisteredOwner   string `yaml:"registered_owner"`
	RegisteredCountry string `yaml:"registered_country"`
}

type dataFile struct {
	Tier      string        `yaml:"tier"`
	Published time.Time     `yaml:"published"`
	Ranges    []rangeRecord `yaml:"ranges"`
}

func readDataFile(path string) (*dataFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var df dataFile
	if err := yaml.Unmarshal(raw, &df); err != nil {
		return nil, fmt.Errorf("parse data file: %w", err)
	}
	if len(df.Ranges) == 0 {
		return nil, fmt.Errorf("data file has no ranges")
	}
	if df.Tier == "" {
		df.Tier = TierLite
	}
	return &df, nil
}
