package app

import (
	"database/sql"

	"github.com/go-chi/oauth"

	"github.com/formsly/formsly/assemble"
	"github.com/formsly/formsly/config"
)

type App struct {
	*sql.DB
	*oauth.BearerServer
	config.Config
	Files assemble.Uploader
}
