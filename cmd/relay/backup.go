package main

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/mtzanidakis/relay/internal/config"
	"github.com/mtzanidakis/relay/internal/store"
	"github.com/spf13/cobra"
)

const (
	archivePrefix = "relay"
	entryStore    = "store.db"
	entryConfig   = "relay.yaml"
)

var (
	backupFile       string
	restoreOverwrite bool
)

var backupCmd = &cobra.Command{
	Use:   "backup -f <output.tar.zst>",
	Short: "Archive the store and the config file",
	Long: `Write a zstd compressed tar holding a consistent snapshot of the store
and the config file. The gateway may keep running while the snapshot is taken.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := store.New(cfg.Store)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()

		n, err := createBackup(db, config.Path(), backupFile)
		if err != nil {
			return err
		}
		info, _ := os.Stat(backupFile)
		size := int64(0)
		if info != nil {
			size = info.Size()
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Backup complete: %d files, %s\n", n, formatSize(size))
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore -f <backup.tar.zst>",
	Short: "Restore the store and the config file from a backup",
	Long: `Restore a backup written by "relay backup". Existing files are kept
unless --overwrite is given. Stop the gateway before restoring.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		targets := map[string]string{
			entryStore:  cfg.Store.Path,
			entryConfig: config.Path(),
		}
		n, err := restoreBackup(backupFile, targets, restoreOverwrite)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Restore complete: %d files\n", n)
		return nil
	},
}

func init() {
	backupCmd.Flags().StringVarP(&backupFile, "file", "f", "", "output archive")
	_ = backupCmd.MarkFlagRequired("file")
	restoreCmd.Flags().StringVarP(&backupFile, "file", "f", "", "archive to restore")
	restoreCmd.Flags().BoolVar(&restoreOverwrite, "overwrite", false, "replace existing files")
	_ = restoreCmd.MarkFlagRequired("file")
}

// createBackup snapshots s and archives it with configFile, which is skipped
// when it does not exist. It returns the number of archived files.
func createBackup(s *store.Store, configFile, outputPath string) (int, error) {
	tmp, err := os.MkdirTemp("", "relay-backup-")
	if err != nil {
		return 0, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	snapshot := filepath.Join(tmp, entryStore)
	if err := s.Snapshot(snapshot); err != nil {
		return 0, err
	}

	files := []struct{ name, src string }{{entryStore, snapshot}}
	if _, err := os.Stat(configFile); err == nil {
		files = append(files, struct{ name, src string }{entryConfig, configFile})
	} else {
		slog.Warn("config file not found, archiving the store only", "path", configFile)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	for _, file := range files {
		slog.Info("archiving", "file", file.name)
		if err := addFile(tw, path.Join(archivePrefix, file.name), file.src); err != nil {
			return 0, fmt.Errorf("archive %s: %w", file.name, err)
		}
	}

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close file: %w", err)
	}
	return len(files), nil
}

func addFile(tw *tar.Writer, name, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o600,
		Size:    info.Size(),
		ModTime: info.ModTime().UTC().Truncate(time.Second),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header: %w", err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("write tar data: %w", err)
	}
	return nil
}

// restoreBackup extracts the archive entries named in targets (entry name to
// destination path). Unknown entries are skipped.
func restoreBackup(inputPath string, targets map[string]string, overwrite bool) (int, error) {
	// Pre-scan so nothing is written when a destination would be clobbered
	names, err := scanArchive(inputPath)
	if err != nil {
		return 0, fmt.Errorf("scan archive: %w", err)
	}
	if len(names) == 0 {
		return 0, errors.New("archive contains no relay files")
	}
	if !overwrite {
		for _, name := range names {
			dst, ok := targets[name]
			if !ok {
				continue
			}
			if _, err := os.Stat(dst); err == nil {
				return 0, fmt.Errorf("%s already exists, add --overwrite to replace it", dst)
			}
		}
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	restored := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return restored, fmt.Errorf("read tar entry: %w", err)
		}
		name, ok := entryName(hdr.Name)
		if !ok || hdr.Typeflag != tar.TypeReg {
			continue
		}
		dst, ok := targets[name]
		if !ok {
			slog.Warn("skipping unknown archive entry", "entry", hdr.Name)
			continue
		}
		if err := extractFile(tr, dst); err != nil {
			return restored, fmt.Errorf("restore %s: %w", name, err)
		}
		slog.Info("restored", "file", name, "path", dst)
		restored++
	}
	return restored, nil
}

// extractFile writes r next to dst and renames it into place.
func extractFile(r io.Reader, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".restore-")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	// Stale WAL files would be replayed over the restored database
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(dst + suffix)
	}
	return os.Rename(tmp.Name(), dst)
}

// scanArchive reads tar headers to collect the relay entries without
// extracting file data.
func scanArchive(p string) ([]string, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if name, ok := entryName(hdr.Name); ok && hdr.Typeflag == tar.TypeReg {
			names = append(names, name)
		}
	}
	return names, nil
}

// entryName returns the file name of an archive entry directly under the
// relay/ prefix. Anything else, including traversal attempts, is rejected.
func entryName(name string) (string, bool) {
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" || strings.Contains(name, "..") {
		return "", false
	}
	dir, file := path.Split(path.Clean(name))
	if strings.TrimSuffix(dir, "/") != archivePrefix || file == "" {
		return "", false
	}
	return file, true
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
