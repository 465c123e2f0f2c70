package download

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/pahedl-app/pahedl/constant"
	"github.com/pahedl-app/pahedl/errs"
	"github.com/pahedl-app/pahedl/key"
	"github.com/spf13/viper"
)

// ResolveFFmpeg locates the muxer binary, consulting in order: the explicit
// configuration override, the bundled platform binaries under the
// application's resource directory, and finally the system PATH. A download
// job fails fast with MissingDependency before any network request when
// nothing resolves.
func ResolveFFmpeg() (string, error) {
	if configured := viper.GetString(key.DownloadFFmpegPath); configured != "" {
		if runnable(configured) {
			return configured, nil
		}
		return "", errs.New(errs.MissingDependency, "ffmpeg (configured path %q is not runnable)", configured)
	}

	if bundled := bundledFFmpeg(); bundled != "" {
		return bundled, nil
	}

	if path, err := exec.LookPath("ffmpeg"); err == nil {
		return path, nil
	}
	return "", errs.New(errs.MissingDependency, "ffmpeg")
}

// bundledFFmpeg probes the platform binary candidates relative to the
// executable's resource directory.
func bundledFFmpeg() string {
	executable, err := os.Executable()
	if err != nil {
		return ""
	}
	resourceDir := filepath.Dir(executable)

	name := "ffmpeg"
	if runtime.GOOS == constant.Windows {
		name = "ffmpeg.exe"
	}

	candidates := []string{
		filepath.Join(resourceDir, "ffmpeg", runtime.GOOS, name),
		filepath.Join(resourceDir, "resources", "ffmpeg", runtime.GOOS, name),
	}
	for _, candidate := range candidates {
		if runnable(candidate) {
			return candidate
		}
	}
	return ""
}

// runnable reports whether the path names an existing regular file.
// Executability is left to the OS at spawn time.
func runnable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
