package pkg

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
	"gopkg.in/yaml.v3"
)

// DepSpec describes a single prebuilt native dependency (i.e. a SUNDIALS
// build) that gets downloaded and unpacked into the workspace.
type DepSpec struct {
	Condition  string `yaml:"if,omitempty"`
	Rejections string `yaml:"ifNot,omitempty"`
	URL        string
	Dest       string
	Sha256     string
	Strip      int
	MarkExec   []string `yaml:"markExec,omitempty"`
}

type DepConfig struct {
	Vars map[string]string
	Deps map[string]DepSpec
}

// StampStore remembers which dependency versions have already been unpacked.
type StampStore interface {
	Stamp(name string) (string, error)
	SetStamp(name, token string) error
}

// LoadDepConfig reads and parses the dependency manifest. The raw file
// content is returned as well so checksum updates can be written back without
// disturbing the rest of the file.
func LoadDepConfig(path string) (DepConfig, string, error) {
	var cfg DepConfig
	cfgData, err := os.ReadFile(path)
	if err != nil {
		return cfg, "", eris.Wrapf(err, "Could not open file %s.", path)
	}

	err = yaml.Unmarshal(cfgData, &cfg)
	if err != nil {
		return cfg, "", eris.Wrapf(err, "Failed to parse %s.", path)
	}

	return cfg, string(cfgData), nil
}

func getProgressBar(length int64, desc string) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" {
		// progress bars just clutter CI logs
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

func evalConditions(meta *DepSpec, vars map[string]string) bool {
	varMatcher := regexp.MustCompile(`\{([A-Z0-9_]+)\}`)

	meta.URL = varMatcher.ReplaceAllStringFunc(meta.URL, func(varName string) string {
		value, ok := vars[varName[1:len(varName)-1]]
		if ok {
			return value
		} else {
			return ""
		}
	})

	for _, condition := range strings.Split(meta.Condition, ",") {
		if condition == "" {
			continue
		}

		value, ok := vars[strings.TrimSpace(condition)]
		if !ok || value == "" {
			return false
		}
	}

	for _, condition := range strings.Split(meta.Rejections, ",") {
		if condition == "" {
			continue
		}

		value, ok := vars[strings.TrimSpace(condition)]
		if ok && value != "" {
			return false
		}
	}
	return true
}

// FetchDeps downloads and unpacks every dependency whose conditions match the
// current platform. Dependencies whose stamp still matches are skipped. If
// update is true, mismatched checksums are collected and returned instead of
// treated as errors.
func FetchDeps(cfg DepConfig, stamps StampStore, projectRoot string, update bool) (map[string]string, error) {
	client := &http.Client{
		Timeout: time.Minute * 30,
	}
	buf := make([]byte, 4096)

	vars := cfg.Vars
	if vars == nil {
		vars = map[string]string{}
	}
	vars[runtime.GOARCH] = "true"
	vars[runtime.GOOS] = "true"
	if os.Getenv("CI") == "true" {
		vars["ci"] = "true"
	}

	changes := map[string]string{}

	for name, meta := range cfg.Deps {
		// We eval the conditions even if we're updating because we have to evaluate the variable placeholders.
		skip := !evalConditions(&meta, vars)
		if skip && !update {
			continue
		}

		destPath := filepath.Join(projectRoot, meta.Dest)
		destInfo, err := os.Stat(destPath)
		destExists := err == nil

		stampToken := meta.URL + "#" + meta.Sha256
		stamp, err := stamps.Stamp(name)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to read stamp for %s", name)
		}
		if stampToken == stamp && destExists {
			continue
		}

		PrintSubtask(name + ":  " + meta.URL)
		if meta.Sha256 == "" && !update {
			return nil, eris.Errorf("Dependency %s doesn't have a checksum", name)
		}

		arHandle, err := os.Create("deps_dl.tmp")
		if err != nil {
			return nil, eris.Wrap(err, "Failed to create deps_dl.tmp")
		}
		defer func() {
			arHandle.Close()
			os.Remove("deps_dl.tmp")
		}()

		resp, err := client.Get(meta.URL)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to start download for %s", meta.URL)
		}
		defer resp.Body.Close()

		hash := sha256.New()
		bar := getProgressBar(resp.ContentLength, "     download")
		for {
			n, err := resp.Body.Read(buf)
			if err != nil && n < 1 {
				if err == io.EOF {
					break
				}
				return nil, eris.Wrapf(err, "Failed during download of %s", meta.URL)
			}

			_, err = hash.Write(buf[:n])
			if err != nil {
				return nil, eris.Wrapf(err, "Failed to calculate checksum for %s", meta.URL)
			}

			_, err = arHandle.Write(buf[:n])
			if err != nil {
				return nil, eris.Wrap(err, "Failed to write download to file deps_dl.tmp")
			}

			bar.Write(buf[:n])
		}
		bar.Finish()
		resp.Body.Close()

		digest := hex.EncodeToString(hash.Sum(nil))
		if digest != meta.Sha256 {
			if update {
				fmt.Println("      Updating checksum")
				changes[name] = digest
			} else {
				return nil, eris.New("Checksum check failed")
			}
		}

		if skip {
			continue
		}

		if destExists {
			PrintSubtask(fmt.Sprintf("Remove %s", destPath))
			if destInfo.IsDir() {
				err = os.RemoveAll(destPath)
			} else {
				err = os.Remove(destPath)
			}
			if err != nil {
				return nil, err
			}
		}

		extractor, err := getExtractor(meta.URL)
		if err != nil {
			return nil, err
		}

		arHandle.Seek(0, io.SeekStart)
		bar = getProgressBar(resp.ContentLength, "      extract")
		err = extractor(arHandle, bar, projectRoot, name, meta)
		if err != nil {
			return nil, err
		}

		if runtime.GOOS != "windows" {
			// .zip files don't carry permissions which means we have to manually fix permissions for binaries in .zip files
			for _, binPath := range meta.MarkExec {
				binPath = filepath.Join(projectRoot, meta.Dest, binPath)
				fi, err := os.Stat(binPath)
				if err != nil {
					return nil, eris.Wrapf(err, "Failed to read permissions for %s", binPath)
				}

				err = os.Chmod(binPath, fi.Mode()|0700)
				if err != nil {
					return nil, eris.Wrapf(err, "Failed to mark %s as executable", binPath)
				}
			}
		}

		err = stamps.SetStamp(name, stampToken)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to record stamp for %s", name)
		}
	}

	return changes, nil
}

// UpdateChecksums patches the passed checksum changes into the manifest file
// without rewriting unrelated lines.
func UpdateChecksums(cfgPath, cfgData string, cfg DepConfig, changes map[string]string) error {
	generated := cfgData
	for name, newChecksum := range changes {
		pos := strings.Index(generated, name+":\n")
		if pos == -1 {
			return eris.Errorf("Failed to find the section for %s!", name)
		}

		subPos := strings.Index(generated[pos:], "sha256: "+cfg.Deps[name].Sha256)
		if subPos == -1 {
			if cfg.Deps[name].Sha256 == "" {
				start := pos + len(name) + 2
				generated = generated[:start] + "    sha256: " + newChecksum + "\n" + generated[start:]
			} else {
				fmt.Printf("     Couldn't find checksum section for %s.\n", name)
			}
		} else {
			start := pos + subPos + 8
			end := start + len(cfg.Deps[name].Sha256)
			generated = generated[:start] + newChecksum + generated[end:]
		}
	}

	return os.WriteFile(cfgPath, []byte(generated), os.FileMode(0660))
}

type (
	archiveExtractor func(*os.File, *progressbar.ProgressBar, string, string, DepSpec) error
)

func openExtractorDest(destPath string, item string, ds DepSpec) (*os.File, string, error) {
	// normalize the path and strip ds.strip elements from the beginning
	pathParts := strings.Split(filepath.Clean(item), string(filepath.Separator))
	dest := filepath.Join(destPath, strings.Join(pathParts[ds.Strip:], string(filepath.Separator)))

	if dest == destPath {
		return nil, "/", nil
	}

	destParent := filepath.Dir(dest)
	err := os.MkdirAll(destParent, os.FileMode(0770))
	if err != nil {
		return nil, "", eris.Wrapf(err, "Failed to create directory %s", destParent)
	}

	destHandle, err := os.Create(dest)
	if err != nil {
		return nil, "", eris.Wrapf(err, "Failed to create file %s", dest)
	}

	return destHandle, dest, nil
}

func getExtractor(url string) (archiveExtractor, error) {
	if strings.HasSuffix(url, ".zip") {
		return func(f *os.File, bar *progressbar.ProgressBar, projectRoot string, name string, ds DepSpec) error {
			stat, err := f.Stat()
			if err != nil {
				return err
			}

			archive, err := zip.NewReader(f, stat.Size())
			if err != nil {
				return err
			}

			buf := make([]byte, 4096)
			destPath := filepath.Join(projectRoot, ds.Dest)
			for _, item := range archive.File {
				if strings.HasSuffix(item.Name, "/") {
					continue
				}
				destHandle, dest, err := openExtractorDest(destPath, item.Name, ds)
				if err != nil {
					return err
				}

				if destHandle == nil {
					continue
				}
				defer destHandle.Close()

				itemHandle, err := item.Open()
				if err != nil {
					return eris.Wrap(err, "Failed to open archive entry")
				}
				defer itemHandle.Close()

				for {
					n, err := itemHandle.Read(buf)
					if err != nil && n < 1 {
						if err == io.EOF {
							break
						}
						return eris.Wrapf(err, "Failed to read archive entry %s", item.Name)
					}

					_, err = destHandle.Write(buf[:n])
					if err != nil {
						return eris.Wrapf(err, "Failed to write extracted file %s", dest)
					}

					pos, err := f.Seek(0, io.SeekCurrent)
					if err == nil {
						bar.Set64(pos)
					}
				}

				itemHandle.Close()
				destHandle.Close()
			}

			return nil
		}, nil
	}

	if strings.HasSuffix(url, ".tar.gz") {
		return func(f *os.File, bar *progressbar.ProgressBar, projectRoot string, name string, ds DepSpec) error {
			reader, err := gzip.NewReader(f)
			if err != nil {
				return err
			}
			defer reader.Close()

			return extractTar(reader, f, bar, projectRoot, name, ds)
		}, nil
	}

	if strings.HasSuffix(url, ".tar.bz2") {
		return func(f *os.File, bar *progressbar.ProgressBar, projectRoot string, name string, ds DepSpec) error {
			reader := bzip2.NewReader(f)

			return extractTar(reader, f, bar, projectRoot, name, ds)
		}, nil
	}

	if strings.HasSuffix(url, ".tar.xz") {
		return func(f *os.File, bar *progressbar.ProgressBar, projectRoot, name string, ds DepSpec) error {
			reader, err := xz.NewReader(f)
			if err != nil {
				return err
			}

			return extractTar(reader, f, bar, projectRoot, name, ds)
		}, nil
	}

	return nil, eris.New("Archive format not supported")
}

func extractTar(r io.Reader, f *os.File, bar *progressbar.ProgressBar, projectRoot string, name string, ds DepSpec) error {
	buf := make([]byte, 4096)
	archive := tar.NewReader(r)
	destPath := filepath.Join(projectRoot, ds.Dest)

	for {
		item, err := archive.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return eris.Wrap(err, "Failed to read archive entry")
		}

		fi := item.FileInfo()
		if fi.IsDir() {
			continue
		}

		destHandle, dest, err := openExtractorDest(destPath, item.Name, ds)
		if err != nil {
			return err
		}

		if destHandle == nil {
			continue
		}
		defer destHandle.Close()

		if item.Typeflag&tar.TypeSymlink == tar.TypeSymlink {
			destHandle.Close()
			err := os.Remove(dest)
			if err != nil {
				return eris.Wrapf(err, "Failed to remove placeholder file %s", dest)
			}

			err = os.Symlink(item.Linkname, dest)
			if err != nil {
				return eris.Wrapf(err, "Failed to create symlink %s pointing to %s", dest, item.Linkname)
			}
			continue
		}

		os.Chmod(dest, fi.Mode())

		for {
			n, err := archive.Read(buf)
			if err != nil && n < 1 {
				if err == io.EOF {
					break
				}
				return eris.Wrapf(err, "Failed to read archive entry %s", item.Name)
			}

			_, err = destHandle.Write(buf[:n])
			if err != nil {
				return eris.Wrapf(err, "Failed to write extracted file %s", dest)
			}

			pos, err := f.Seek(0, io.SeekCurrent)
			if err == nil {
				bar.Set64(pos)
			}
		}

		destHandle.Close()
	}

	return nil
}
