// Package export 安防报告导出：把事件日志与身份名册生成 Excel 文件。
package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"homewatch/internal/models"
)

const (
	eventsSheetName = "Events"
	facesSheetName  = "Known Faces"
)

// eventHeaders 事件表表头
var eventHeaders = []string{
	"Time",
	"Type",
	"Room",
	"Person",
	"Risk Level",
	"Description",
}

// faceHeaders 身份名册表头
var faceHeaders = []string{
	"Name",
	"Category",
	"Visit Count",
	"Last Seen",
	"Access Allowed",
	"Added At",
}

// GenerateSecurityReport 生成安防报告 Excel（事件流水 + 身份名册两张表）
func GenerateSecurityReport(events []*models.Event, faces []*models.KnownFace) ([]byte, error) {
	f := excelize.NewFile()
	// WriteTo 之前不能 Close

	index, err := f.NewSheet(eventsSheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create events sheet: %w", err)
	}
	if _, err := f.NewSheet(facesSheetName); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create faces sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeHeaders(f, eventsSheetName, eventHeaders, headerStyle); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeHeaders(f, facesSheetName, faceHeaders, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	for rowIdx, event := range events {
		row := rowIdx + 2
		values := []interface{}{
			event.Timestamp.Format("2006-01-02 15:04:05"),
			event.Type,
			stringOrEmpty(event.Room),
			stringOrEmpty(event.PersonName),
			event.RiskLevel,
			event.Description,
		}
		if err := writeRow(f, eventsSheetName, row, values); err != nil {
			f.Close()
			return nil, err
		}
	}

	for rowIdx, face := range faces {
		row := rowIdx + 2
		lastSeen := ""
		if face.LastSeen != nil {
			lastSeen = face.LastSeen.Format("2006-01-02 15:04:05")
		}
		access := "No"
		if face.AccessAllowed {
			access = "Yes"
		}
		values := []interface{}{
			face.Name,
			face.Category,
			face.VisitCount,
			lastSeen,
			access,
			face.AddedAt.Format("2006-01-02 15:04:05"),
		}
		if err := writeRow(f, facesSheetName, row, values); err != nil {
			f.Close()
			return nil, err
		}
	}

	// 冻结两张表的表头行
	for _, sheet := range []string{eventsSheetName, facesSheetName} {
		if err := f.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to freeze panes: %w", err)
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return buf.Bytes(), nil
}

// ReportFileName 报告文件名（带生成时刻）
func ReportFileName(now time.Time) string {
	return fmt.Sprintf("security_report_%s.xlsx", now.Format("20060102_150405"))
}

func writeHeaders(f *excelize.File, sheet string, headers []string, style int) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		colName, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheet, colName, colName, 20); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	for col, value := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			return fmt.Errorf("failed to set cell %s: %w", cell, err)
		}
	}
	return nil
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
