package main

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/chorale-dev/chorale/internal/config"
)

// Archive layout: a top-level directory per state unit, "store/" for the
// sqlite database directory and "nats/" for the jetstream data dir. Restore
// maps units back onto the paths in the current config.
type backupUnit struct {
	name string
	root string
	skip string
}

func stateUnits(cfg *config.Config) []backupUnit {
	return []backupUnit{
		// The nats dir often nests inside the store dir; skip it there so
		// its files land in one unit only.
		{name: "store", root: filepath.Dir(cfg.Store.Path), skip: filepath.Clean(cfg.NATS.DataDir)},
		{name: "nats", root: cfg.NATS.DataDir},
	}
}

func runBackup(args []string) error {
	var outputPath string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			outputPath = args[i]
		}
	}

	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: chorale backup -f <output.tar.zst>\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	archived := 0
	for _, unit := range stateUnits(cfg) {
		if _, err := os.Stat(unit.root); os.IsNotExist(err) {
			slog.Warn("state dir missing, skipping", "unit", unit.name, "path", unit.root)
			continue
		}
		slog.Info("backing up", "unit", unit.name, "path", unit.root)
		if err := backupDir(tw, unit); err != nil {
			return fmt.Errorf("backup %s: %w", unit.name, err)
		}
		archived++
	}

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	info, _ := os.Stat(outputPath)
	size := int64(0)
	if info != nil {
		size = info.Size()
	}

	fmt.Printf("Backup complete: %d units, %s\n", archived, formatSize(size))
	return nil
}

func backupDir(tw *tar.Writer, unit backupUnit) error {
	return filepath.WalkDir(unit.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if unit.skip != "" && filepath.Clean(p) == unit.skip {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(unit.root, p)
		if err != nil {
			return err
		}
		name := unit.name
		if rel != "." {
			name = path.Join(unit.name, filepath.ToSlash(rel))
		}
		return writeEntry(tw, p, name, d)
	})
}

func writeEntry(tw *tar.Writer, p, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("tar header for %s: %w", p, err)
	}
	hdr.Name = name
	if info.IsDir() && !strings.HasSuffix(hdr.Name, "/") {
		hdr.Name += "/"
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header: %w", err)
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return nil
	}

	src, err := os.Open(p)
	if err != nil {
		return err
	}
	if _, err := io.Copy(tw, src); err != nil {
		src.Close()
		return fmt.Errorf("write tar data: %w", err)
	}
	return src.Close()
}

func runRestore(args []string) error {
	var inputPath string
	overwrite := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			inputPath = args[i]
		case "-overwrite":
			overwrite = true
		}
	}

	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: chorale restore -f <backup.tar.zst> [-overwrite]\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if !overwrite {
		if _, err := os.Stat(cfg.Store.Path); err == nil {
			return fmt.Errorf("store %s already exists, add -overwrite to replace files", cfg.Store.Path)
		}
		if _, err := os.Stat(cfg.NATS.DataDir); err == nil {
			return fmt.Errorf("nats dir %s already exists, add -overwrite to replace files", cfg.NATS.DataDir)
		}
	}

	targets := make(map[string]string)
	for _, unit := range stateUnits(cfg) {
		targets[unit.name] = unit.root
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
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
			return fmt.Errorf("read tar entry: %w", err)
		}

		unit, rel := splitUnitPath(hdr.Name)
		base, ok := targets[unit]
		if !ok {
			continue
		}

		dest := filepath.Join(base, filepath.FromSlash(rel))
		if !withinDir(base, dest) {
			return fmt.Errorf("archive entry escapes target dir: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, fs.FileMode(hdr.Mode).Perm()); err != nil {
				return fmt.Errorf("create dir %s: %w", dest, err)
			}
		case tar.TypeReg:
			if err := restoreFile(dest, fs.FileMode(hdr.Mode).Perm(), tr); err != nil {
				return err
			}
			restored++
		}
	}

	fmt.Printf("Restore complete: %d files\n", restored)
	return nil
}

func restoreFile(dest string, mode fs.FileMode, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", dest, err)
	}
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dest, err)
	}
	return nil
}

// splitUnitPath splits "store/some/file" into ("store", "some/file").
func splitUnitPath(name string) (unit, relPath string) {
	name = strings.TrimLeft(name, "./")
	if name == "" {
		return "", ""
	}
	idx := strings.IndexByte(name, '/')
	if idx < 0 {
		return name, ""
	}
	return name[:idx], strings.Trim(name[idx+1:], "/")
}

func withinDir(base, p string) bool {
	base = filepath.Clean(base)
	p = filepath.Clean(p)
	return p == base || strings.HasPrefix(p, base+string(os.PathSeparator))
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
