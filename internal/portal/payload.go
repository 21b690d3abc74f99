package portal

// Wire types for the court portal's JSON API. Field names follow the
// portal's own naming and are not part of this package's contract;
// everything downstream works on the normalized snapshot instead.

type searchRequest struct {
	CourtCode     string `json:"bubwLocCd"`
	CaseYear      string `json:"csYear"`
	CaseTypeCode  string `json:"csDvsCd"`
	CaseSerial    string `json:"csSerial"`
	PartyName     string `json:"btprNm"`
	CaptchaAnswer string `json:"captchaAnswer"`
}

type searchResponse struct {
	ResultCode    string `json:"resultCd"`
	ResultMessage string `json:"resultMsg"`
	EncCaseNo     string `json:"encCsNo"`
	CourtCode     string `json:"bubwLocCd"`
}

type detailRequest struct {
	EncCaseNo string `json:"encCsNo"`
}

type detailResponse struct {
	ResultCode    string         `json:"resultCd"`
	ResultMessage string         `json:"resultMsg"`
	Payload       RawCasePayload `json:"csDetail"`
}

type refreshResponse struct {
	ResultCode    string `json:"resultCd"`
	ResultMessage string `json:"resultMsg"`
	Token         string `json:"sessionToken"`
	Cookie        string `json:"sessionCookie"`
	ExpiresAt     string `json:"expiresAt"`
}

// RawCasePayload is the untranslated case detail returned by the
// portal. Absent lists decode as nil; normalization maps them to empty.
type RawCasePayload struct {
	Basic           map[string]string `json:"csBasicInfo"`
	Hearings        []RawHearing      `json:"trlLst"`
	Progress        []RawProgress     `json:"prcdLst"`
	Documents       []RawDocument     `json:"docLst"`
	Parties         []RawParty        `json:"btprLst"`
	Representatives []RawParty        `json:"agntLst"`
}

type RawHearing struct {
	Date     string `json:"trlDt"`
	Time     string `json:"trlTm"`
	Type     string `json:"trlDvs"`
	Location string `json:"trlPlc"`
	Result   string `json:"trlRslt"`
}

type RawProgress struct {
	Date    string `json:"prcdDt"`
	Content string `json:"prcdCtt"`
	Result  string `json:"prcdRslt"`
}

type RawDocument struct {
	Date  string `json:"docDt"`
	Title string `json:"docNm"`
	Party string `json:"docBtpr"`
}

type RawParty struct {
	Name string `json:"btprNm"`
	Role string `json:"btprDvs"`
}

// Portal result codes. Anything unrecognized is treated as a portal
// availability problem so callers fall back to retry-with-backoff.
const (
	codeOK                = "0000"
	codeInvalidCaptcha    = "E201"
	codeCaseNotFound      = "E301"
	codePartyNameMismatch = "E302"
	codeSessionExpired    = "E401"
)
