package model

import "strconv"

// DaysPerRow is the number of daily value columns in a county row.
const DaysPerRow = 31

// Header is the canonical column header of every nClimGrid county file.
var Header = func() []string {
	h := []string{"Region Type", "Region Code", "Region Name", "Year", "Month", "Variable Type"}
	for d := 1; d <= DaysPerRow; d++ {
		h = append(h, strconv.Itoa(d))
	}
	return h
}()

// Row is one county record of a monthly file.
type Row struct {
	RegionType   string
	RegionCode   string
	RegionName   string
	Year         string
	Month        string
	VariableType string
	Days         [DaysPerRow]string
}

// Values returns the row fields in Header order.
func (r Row) Values() []string {
	v := make([]string, 0, len(Header))
	v = append(v, r.RegionType, r.RegionCode, r.RegionName, r.Year, r.Month, r.VariableType)
	return append(v, r.Days[:]...)
}
