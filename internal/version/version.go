package version

import (
	"fmt"
	"runtime"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// BuildInfo описывает сборку сервиса. Поля version/commit/date
// заполняются через -ldflags при сборке релиза.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
}

// Build возвращает сведения о текущей сборке.
func Build() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		Date:      date,
		GoVersion: runtime.Version(),
	}
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s go=%s", b.Version, b.Commit, b.Date, b.GoVersion)
}
