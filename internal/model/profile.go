package model

import "time"

// ProfileDocument はユーザーごとに1件のプロフィール文書を表す。
// 文書が存在しないことと、フィールドが空であることは区別される。
type ProfileDocument struct {
	// PhotoURL は外部の画像URL。PhotoKeyと排他。
	PhotoURL string `json:"photoURL,omitempty"`
	// PhotoKey はオブジェクトストレージ上のキー。
	PhotoKey  string    `json:"photoKey,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasPhoto は文書が写真参照を持つかを返す。
func (d *ProfileDocument) HasPhoto() bool {
	return d != nil && (d.PhotoURL != "" || d.PhotoKey != "")
}

// Profile は表示用に解決済みのプロフィールを表す。
type Profile struct {
	UserID string
	// PhotoURL は実効写真URL。文書がない場合はIdPの写真。
	PhotoURL string
	// Document はnilの場合、文書が存在しない。
	Document *ProfileDocument
}
