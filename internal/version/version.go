// Package version хранит сведения о сборке, подставляемые через -ldflags:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/orderflow/internal/version.version=v1.2.0"
package version

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает версию, коммит и дату сборки.
func Info() (v, c, d string) { return version, commit, date }

func GetVersion() string { return version }
func GetCommit() string  { return commit }
func GetDate() string    { return date }

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// Fields: поля сборки для стартовой записи в лог.
func Fields(service string) log.Fields {
	return log.Fields{
		"service": service,
		"version": version,
		"commit":  commit,
		"date":    date,
	}
}
