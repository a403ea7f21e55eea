package models

const DocumentTypeCertificate = "CERTIFICADO"

type UploadResult struct {
	Detail   string `json:"detail,omitempty"`
	ID       int64  `json:"id,omitempty"`
	FileName string `json:"archivo,omitempty"`
}

// Upload progress in bytes, Total is -1 when unknown
type UploadProgress struct {
	Sent  int64
	Total int64
}

func (p UploadProgress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return int(p.Sent * 100 / p.Total)
}
