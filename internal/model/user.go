package model

// UserProfile は外部ユーザーサービスから取得するプロフィール。
// ローカルには保存しない。
type UserProfile struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Username string  `json:"username"`
	Email    string  `json:"email"`
	Address  Address `json:"address"`
	Phone    string  `json:"phone"`
	Website  string  `json:"website"`
	Company  Company `json:"company"`
}

// Address はユーザーの住所。
type Address struct {
	Street  string `json:"street"`
	Suite   string `json:"suite"`
	City    string `json:"city"`
	Zipcode string `json:"zipcode"`
	Geo     Geo    `json:"geo"`
}

// Geo は緯度経度。外部サービスは文字列で返す。
type Geo struct {
	Lat string `json:"lat"`
	Lng string `json:"lng"`
}

// Company はユーザーの所属企業。
type Company struct {
	Name        string `json:"name"`
	CatchPhrase string `json:"catchPhrase"`
	BS          string `json:"bs"`
}
