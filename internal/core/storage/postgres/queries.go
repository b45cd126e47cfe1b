package postgres

const (
	queryAdvisorySessionLock = `SELECT pg_advisory_xact_lock($1)`

	queryGetDedupRecord = `
		SELECT calling_number, used_seqno_array, unaggregated_usage, last_updated
		FROM session_dupcheck
		WHERE session_id = $1 AND session_start_utc = $2
	`

	queryUpsertDedupRecord = `
		INSERT INTO session_dupcheck (
			session_id, session_start_utc, calling_number,
			used_seqno_array, unaggregated_usage, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, session_start_utc) DO UPDATE SET
			used_seqno_array   = EXCLUDED.used_seqno_array,
			unaggregated_usage = EXCLUDED.unaggregated_usage,
			last_updated       = EXCLUDED.last_updated
	`

	queryDeleteDedupRecord = `
		DELETE FROM session_dupcheck
		WHERE session_id = $1 AND session_start_utc = $2
	`

	queryGetRunningTotals = `
		SELECT min_seqno, max_seqno, min_record_start_utc, max_record_start_utc,
		       calling_number, destination, record_usage, record_count
		FROM session_running_totals
		WHERE session_id = $1 AND session_start_utc = $2
	`

	// One upsert maintains the projection: the first accepted record creates
	// the row, every later one extends the min/max bounds and running sums.
	// calling_number and destination keep the first non-empty value seen.
	queryAppendDetailRecord = `
		INSERT INTO session_running_totals (
			session_id, session_start_utc,
			min_seqno, max_seqno,
			min_record_start_utc, max_record_start_utc,
			calling_number, destination,
			record_usage, record_count
		) VALUES ($1, $2, $3, $3, $4, $4, $5, $6, $7, 1)
		ON CONFLICT (session_id, session_start_utc) DO UPDATE SET
			min_seqno            = LEAST(session_running_totals.min_seqno, EXCLUDED.min_seqno),
			max_seqno            = GREATEST(session_running_totals.max_seqno, EXCLUDED.max_seqno),
			min_record_start_utc = LEAST(session_running_totals.min_record_start_utc, EXCLUDED.min_record_start_utc),
			max_record_start_utc = GREATEST(session_running_totals.max_record_start_utc, EXCLUDED.max_record_start_utc),
			calling_number       = COALESCE(NULLIF(session_running_totals.calling_number, ''), EXCLUDED.calling_number),
			destination          = COALESCE(NULLIF(session_running_totals.destination, ''), EXCLUDED.destination),
			record_usage         = session_running_totals.record_usage + EXCLUDED.record_usage,
			record_count         = session_running_totals.record_count + 1
	`

	queryDeleteRunningTotals = `
		DELETE FROM session_running_totals
		WHERE session_id = $1 AND session_start_utc = $2
	`

	queryInsertAggregatedSession = `
		INSERT INTO aggregated_sessions (
			reason, session_id, session_start_utc,
			min_seqno, max_seqno,
			calling_number, destination,
			start_agg_time_utc, end_agg_time_utc,
			record_usage
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	queryInsertRejectedRecord = `
		INSERT INTO rejected_records (
			reason, session_id, session_start_utc,
			seqno, end_seqno,
			calling_number, destination, record_type,
			record_start_utc, end_record_start_utc,
			record_usage
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	queryFindOldestOpenSession = `
		SELECT session_id, session_start_utc,
		       min_seqno, max_seqno, min_record_start_utc, max_record_start_utc,
		       calling_number, destination, record_usage, record_count
		FROM session_running_totals
		ORDER BY min_record_start_utc, session_id, session_start_utc
		LIMIT 1
	`

	queryFindOpenSessionsInWindow = `
		SELECT session_id, session_start_utc,
		       min_seqno, max_seqno, min_record_start_utc, max_record_start_utc,
		       calling_number, destination, record_usage, record_count
		FROM session_running_totals
		WHERE min_record_start_utc BETWEEN $1 AND $2
		ORDER BY min_record_start_utc, session_id, session_start_utc
		LIMIT $3
	`

	queryGetParameter = `
		SELECT parameter_value FROM mediation_parameters WHERE parameter_name = $1
	`
)
