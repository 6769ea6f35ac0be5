package app

import (
	"stream-bridge/internal/auth"
)

func (app *App) initializeAuth() error {
	if !app.Config.AdminEnabled() {
		app.Logger.Info("Admin API: Disabled (ADMIN_JWT_SECRET not set)")
		return nil
	}

	a, err := auth.New(app.Config.AdminJWTSecret)
	if err != nil {
		return err
	}
	app.Auth = a
	app.Logger.Info("Admin API: Enabled")
	return nil
}
