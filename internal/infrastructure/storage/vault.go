package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/application/port"
	"github.com/garyjia/digital-fte/internal/domain/entity"
)

// Well-known files at the vault root.
const (
	HandbookFile  = "Company_Handbook.md"
	GoalsFile     = "Business_Goals.md"
	DashboardFile = "Dashboard.md"
)

// Folders outside the task partitions.
const (
	InboxFolder     = "Inbox"
	FilesFolder     = "Files"
	LogsFolder      = "Logs"
	BriefingsFolder = "Briefings"
)

var vaultTemplates = map[string]string{
	HandbookFile:  "# Company Handbook\n\nAdd your operating rules here.\n",
	GoalsFile:     "# Business Goals\n\nAdd your business objectives here.\n",
	DashboardFile: "# AI Employee Dashboard\n\n*Status: Initializing*\n",
}

// VaultFolders lists every directory a vault needs.
func VaultFolders() []string {
	folders := []string{InboxFolder}
	for _, p := range entity.Partitions {
		folders = append(folders, string(p))
	}
	return append(folders, FilesFolder, LogsFolder, BriefingsFolder)
}

// InitVault creates the vault layout under root. Existing files are never
// overwritten. It returns the paths it created, relative to root.
func InitVault(root string, logger *zap.Logger) ([]string, error) {
	var created []string

	for _, folder := range VaultFolders() {
		path := filepath.Join(root, folder)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			logger.Error("Failed to create folder",
				zap.String("folder_path", path),
				zap.Error(err))
			return created, fmt.Errorf("failed to create folder: %w", err)
		}
		created = append(created, folder+string(filepath.Separator))
	}

	for _, name := range []string{HandbookFile, GoalsFile, DashboardFile} {
		path := filepath.Join(root, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("failed to create %s: %w", name, err)
		}
		_, werr := f.WriteString(vaultTemplates[name])
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return created, fmt.Errorf("failed to write %s: %w", name, werr)
		}
		created = append(created, name)
	}

	logger.Info("Vault initialized",
		zap.String("root", root),
		zap.Int("created", len(created)))
	return created, nil
}

// PolicyFiles reads policy documents from the vault root on every call, so
// edits take effect on the next evaluation.
type PolicyFiles struct {
	root   string
	names  []string
	logger *zap.Logger
}

// NewPolicyFiles creates a provider for the given file names. With no names
// it reads the handbook and the business goals.
func NewPolicyFiles(root string, logger *zap.Logger, names ...string) *PolicyFiles {
	if len(names) == 0 {
		names = []string{HandbookFile, GoalsFile}
	}
	return &PolicyFiles{root: root, names: names, logger: logger}
}

// Policies returns the documents that exist. A missing file is skipped.
func (p *PolicyFiles) Policies(ctx context.Context) ([]port.PolicyDocument, error) {
	docs := make([]port.PolicyDocument, 0, len(p.names))
	for _, name := range p.names {
		data, err := os.ReadFile(filepath.Join(p.root, name))
		if errors.Is(err, fs.ErrNotExist) {
			p.logger.Debug("Policy document missing", zap.String("name", name))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read policy %s: %w", name, err)
		}
		docs = append(docs, port.PolicyDocument{Name: name, Content: string(data)})
	}
	return docs, nil
}

var _ port.PolicyProvider = (*PolicyFiles)(nil)
