package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/veo3pk/studio/internal/config"
)

// Upload stores localPath on the configured FTP server under cfg.Path.
func Upload(ctx context.Context, cfg config.FTPConfig, localPath string) error {
	if cfg.Host == "" {
		return errors.New("backup: ftp host is not configured")
	}
	port := cfg.Port
	if port == 0 {
		port = 21
	}
	conn, err := ftp.Dial(fmt.Sprintf("%s:%d", cfg.Host, port),
		ftp.DialWithTimeout(30*time.Second),
		ftp.DialWithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(cfg.Username, cfg.Password); err != nil {
		return fmt.Errorf("ftp login: %w", err)
	}
	if cfg.Path != "" && cfg.Path != "/" {
		if err := conn.ChangeDir(cfg.Path); err != nil {
			_ = conn.MakeDir(cfg.Path)
			if err := conn.ChangeDir(cfg.Path); err != nil {
				return fmt.Errorf("ftp change dir %s: %w", cfg.Path, err)
			}
		}
	}

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := conn.Stor(filepath.Base(localPath), f); err != nil {
		return fmt.Errorf("ftp upload: %w", err)
	}
	return nil
}
