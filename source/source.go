package source

import (
	"github.com/pietjan/txmigrate/database"
)

type Driver interface {
	// Migrations returns every migration the source knows about, in no
	// particular order
	Migrations() ([]database.Migration, error)
}
