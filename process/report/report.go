package report

import (
	"context"
	"fmt"
	"io"

	"gorm.io/gorm"

	"labweb/models"
)

// YearCount is the number of catalog papers published in a year.
type YearCount struct {
	Year  int
	Total int64
}

// StaffCount is the number of people holding a staff status.
type StaffCount struct {
	StaffStatus models.StaffStatus
	Total       int64
}

// PapersByYear counts catalog entries per publication year, newest first.
func PapersByYear(ctx context.Context, gdb *gorm.DB) ([]YearCount, error) {
	var out []YearCount
	err := gdb.WithContext(ctx).Raw(`SELECT year, COUNT(*) AS total FROM papers GROUP BY year ORDER BY year DESC`).Scan(&out).Error
	return out, err
}

// PeopleByStaff counts profiles per staff status.
func PeopleByStaff(ctx context.Context, gdb *gorm.DB) ([]StaffCount, error) {
	var out []StaffCount
	err := gdb.WithContext(ctx).Raw(`SELECT staff_status, COUNT(*) AS total FROM profiles GROUP BY staff_status ORDER BY staff_status`).Scan(&out).Error
	return out, err
}

// Write prints the lab summary. With list set, every paper of year (or of all
// years when year is 0) is printed as well.
func Write(ctx context.Context, w io.Writer, gdb *gorm.DB, year int, list bool) error {
	people, err := PeopleByStaff(ctx, gdb)
	if err != nil {
		return fmt.Errorf("count people: %w", err)
	}
	papers, err := PapersByYear(ctx, gdb)
	if err != nil {
		return fmt.Errorf("count papers: %w", err)
	}

	fmt.Fprintln(w, "People:")
	for _, p := range people {
		fmt.Fprintf(w, "  %-10s %d\n", p.StaffStatus.Label(), p.Total)
	}
	fmt.Fprintln(w, "Papers:")
	for _, p := range papers {
		if year != 0 && p.Year != year {
			continue
		}
		fmt.Fprintf(w, "  %d %d\n", p.Year, p.Total)
	}

	if list {
		var rows []models.Paper
		q := gdb.WithContext(ctx).Order("year desc").Order("id")
		if year != 0 {
			q = q.Where("year = ?", year)
		}
		if err := q.Find(&rows).Error; err != nil {
			return fmt.Errorf("fetch papers: %w", err)
		}
		for _, r := range rows {
			fmt.Fprintf(w, "%d|%d|%s|%s\n", r.ID, r.Year, r.String(), r.Publisher)
		}
	}
	return nil
}
