// Package notice holds the transient messages the presentation layer shows
// once and then clears. A notice is either a catalog message rendered in
// the user's language or a verbatim text received from the backend.
package notice

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Key identifies a catalog message.
type Key string

const (
	AccountFetchFailed       Key = "account_fetch_failed"
	CompanyFetchFailed       Key = "company_fetch_failed"
	AttendanceIndexRequired  Key = "attendance_index_required"
	AttendanceFetchFailed    Key = "attendance_fetch_failed"
	AccountDeleted           Key = "account_deleted"
	ClockedIn                Key = "clocked_in"
	ClockedOut               Key = "clocked_out"
	RecordAttendanceFailed   Key = "record_attendance_failed"
	CompanyCreated           Key = "company_created"
	CreateCompanyFailed      Key = "create_company_failed"
	CompanyJoined            Key = "company_joined"
	JoinCompanyFailed        Key = "join_company_failed"
	AccountDeletionCompleted Key = "account_deletion_completed"
	DeleteAccountFailed      Key = "delete_account_failed"
)

var messages = map[language.Tag]map[Key]string{
	language.English: {
		AccountFetchFailed:       "Failed to load user info: %s",
		CompanyFetchFailed:       "Failed to load company info: %s",
		AttendanceIndexRequired:  "A query index must be created. Check the backend logs for the index definition.",
		AttendanceFetchFailed:    "Failed to load attendance history: %s",
		AccountDeleted:           "Your account has been deleted",
		ClockedIn:                "Clocked in",
		ClockedOut:               "Clocked out",
		RecordAttendanceFailed:   "Failed to record attendance",
		CompanyCreated:           "Company created",
		CreateCompanyFailed:      "Failed to create company",
		CompanyJoined:            "You have joined the company",
		JoinCompanyFailed:        "Failed to join company",
		AccountDeletionCompleted: "Account deletion completed",
		DeleteAccountFailed:      "Failed to delete account",
	},
	language.Japanese: {
		AccountFetchFailed:       "ユーザー情報の取得に失敗: %s",
		CompanyFetchFailed:       "会社情報の取得に失敗: %s",
		AttendanceIndexRequired:  "インデックスの作成が必要です。バックエンドのログを確認してください。",
		AttendanceFetchFailed:    "打刻履歴の取得に失敗: %s",
		AccountDeleted:           "アカウントが削除されました",
		ClockedIn:                "出勤しました",
		ClockedOut:               "退勤しました",
		RecordAttendanceFailed:   "打刻に失敗しました",
		CompanyCreated:           "会社を作成しました",
		CreateCompanyFailed:      "会社の作成に失敗しました",
		CompanyJoined:            "参加登録が完了しました",
		JoinCompanyFailed:        "会社への参加に失敗しました",
		AccountDeletionCompleted: "解約が完了しました",
		DeleteAccountFailed:      "解約に失敗しました",
	},
}

var (
	supported    = []language.Tag{language.English, language.Japanese}
	matcher      = language.NewMatcher(supported)
	translations = newCatalog()
)

func newCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, entries := range messages {
		for key, msg := range entries {
			if err := b.SetString(tag, string(key), msg); err != nil {
				panic(err)
			}
		}
	}
	return b
}

// Notice is a single user-facing message.
type Notice struct {
	Key  Key
	Args []any
	// Text is shown verbatim when Key is empty.
	Text string
}

// Message builds a catalog notice.
func Message(key Key, args ...any) *Notice {
	return &Notice{Key: key, Args: args}
}

// Text builds a notice carrying a message received from the backend.
func Text(text string) *Notice {
	return &Notice{Text: text}
}

// Render formats the notice in the given language.
func (n *Notice) Render(tag language.Tag) string {
	if n == nil {
		return ""
	}
	if n.Key == "" {
		return n.Text
	}
	p := message.NewPrinter(tag, message.Catalog(translations))
	return p.Sprintf(string(n.Key), n.Args...)
}

func (n *Notice) String() string {
	return n.Render(language.English)
}

// Match picks the best supported language for an Accept-Language header
// value. English is used when nothing matches.
func Match(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return language.English
	}
	return supported[idx]
}
