package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"omg-license-server/internal/model"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetSyncService exports the license roster to a Google Sheet so the
// ops team can eyeball it without dashboard access. Best effort: a
// failed export never fails the licensing operation that triggered it.
type SheetSyncService struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
}

func NewSheetSyncService(enableSync bool, credentialPath, spreadsheetID, sheetName string) (*SheetSyncService, error) {
	if !enableSync {
		return nil, nil
	}

	ctx := context.Background()

	b, err := os.ReadFile(credentialPath)
	if err != nil {
		return nil, err
	}

	creds, err := google.CredentialsFromJSON(ctx, b, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("failed to load sheet credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, err
	}

	return &SheetSyncService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}, nil
}

// SyncLicense writes one roster row, keyed on license id. Updates the
// existing row when the license was exported before, appends otherwise.
func (s *SheetSyncService) SyncLicense(license *model.License) error {
	if s == nil {
		return nil
	}

	rangeToSearch := fmt.Sprintf("%s!A2:A", s.sheetName)
	idResp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, rangeToSearch).Do()
	if err != nil {
		log.Warn().Err(err).Msg("sheet export: roster read failed")
		return fmt.Errorf("read roster sheet: %w", err)
	}

	var rowIndex int
	found := false
	for i, row := range idResp.Values {
		if len(row) > 0 && row[0] == license.ID {
			found = true
			rowIndex = i + 2 // data starts at A2
			break
		}
	}

	expires := ""
	if license.ExpiresAt != nil {
		expires = license.ExpiresAt.Format(time.RFC3339)
	}
	values := [][]interface{}{{
		license.ID,
		maskKey(license.Key),
		license.Tier,
		license.Status,
		fmt.Sprintf("%d/%d", license.UsedSeats, license.MaxSeats),
		expires,
		license.UpdatedAt.Format(time.RFC3339),
	}}

	if found {
		rangeData := fmt.Sprintf("%s!A%d:G%d", s.sheetName, rowIndex, rowIndex)
		_, err = s.service.Spreadsheets.Values.Update(
			s.spreadsheetID,
			rangeData,
			&sheets.ValueRange{Values: values},
		).ValueInputOption("USER_ENTERED").Do()
	} else {
		_, err = s.service.Spreadsheets.Values.Append(
			s.spreadsheetID,
			s.sheetName+"!A2:G",
			&sheets.ValueRange{Values: values},
		).ValueInputOption("USER_ENTERED").Do()
	}

	if err != nil {
		log.Warn().Err(err).Str("license", license.ID).Msg("sheet export failed")
		return fmt.Errorf("export license row: %w", err)
	}
	return nil
}

// maskKey keeps the roster useful for support lookups without putting
// the full secret in a spreadsheet.
func maskKey(key string) string {
	if len(key) <= 12 {
		return strings.Repeat("*", len(key))
	}
	return key[:8] + "..." + key[len(key)-4:]
}
