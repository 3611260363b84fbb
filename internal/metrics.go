package internal

import "expvar"

var (
	requestsTotal      = expvar.NewMap("sheetlog_requests_total")
	verificationsTotal = expvar.NewInt("sheetlog_url_verifications_total")
	parseErrors        = expvar.NewInt("sheetlog_parse_errors_total")
	excludedTotal      = expvar.NewMap("sheetlog_excluded_total")
	skippedTotal       = expvar.NewInt("sheetlog_skipped_total")
	rowsAppended       = expvar.NewInt("sheetlog_rows_appended_total")
	appendErrors       = expvar.NewInt("sheetlog_append_errors_total")
	mirrorErrors       = expvar.NewInt("sheetlog_mirror_errors_total")
)

func IncRequest(endpoint string) {
	requestsTotal.Add(endpoint, 1)
}

func IncVerification() {
	verificationsTotal.Add(1)
}

func IncParseError() {
	parseErrors.Add(1)
}

func IncExcluded(rule string) {
	excludedTotal.Add(rule, 1)
}

func IncSkipped() {
	skippedTotal.Add(1)
}

func AddRowsAppended(n int64) {
	rowsAppended.Add(n)
}

func IncAppendError() {
	appendErrors.Add(1)
}

func IncMirrorError() {
	mirrorErrors.Add(1)
}
