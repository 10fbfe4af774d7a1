package index

import "time"

// Summary is the diagnostic snapshot of a version, in the wire shape served
// by GET /ann/{indexName}.
type Summary struct {
	PathTar  string      `json:"path_tar"`
	AnnMeta  MetaSummary `json:"ann_meta"`
	TsRead   string      `json:"ts_read"`
	NIDs     int         `json:"n_ids"`
	Head5IDs []string    `json:"head5_ids"`
}

// MetaSummary is the wire shape of a version's artifact metadata.
type MetaSummary struct {
	VecSrc       string `json:"vec_src"`
	Metric       string `json:"metric"`
	NDim         int    `json:"n_dim"`
	TimestampUTC string `json:"timestamp_utc"`
}

// Summary builds the diagnostic snapshot. Timestamps are ISO-8601 UTC.
func (v *Version) Summary() Summary {
	return Summary{
		PathTar: v.sourceURI,
		AnnMeta: MetaSummary{
			VecSrc:       v.meta.VecSrc,
			Metric:       v.meta.Metric.String(),
			NDim:         v.meta.NDim,
			TimestampUTC: v.meta.BuiltAt.UTC().Format(time.RFC3339),
		},
		TsRead:   v.loadedAt.UTC().Format(time.RFC3339),
		NIDs:     len(v.ids),
		Head5IDs: v.Head(5),
	}
}
