package domain

// Country - страна пользователя. Значения совпадают с enum'ом в GraphQL-схеме.
type Country string

const (
	CountryIndia  Country = "INDIA"
	CountryUSA    Country = "USA"
	CountryChina  Country = "CHINA"
	CountryRussia Country = "RUSSIA"
	CountryEmpty  Country = "EMPTY"
)

// CommentRef - денормализованная ссылка на комментарий в документе пользователя.
// Сам комментарий хранится в под-коллекции blogs/<blogId>/comments.
type CommentRef struct {
	ID     string `json:"id" firestore:"id"`
	BlogID string `json:"blogId" firestore:"blogId"`
}

// UpvoteRef - денормализованная ссылка на апвоут в документе пользователя.
// Инвариант: blogId внутри списка upvotes уникален, это единственный
// источник истины для проверки "пользователь уже голосовал за блог X".
type UpvoteRef struct {
	ID     string `json:"id" firestore:"id"`
	BlogID string `json:"blogId" firestore:"blogId"`
}

// User представляет пользователя в системе.
type User struct {
	ID        string       `json:"id" firestore:"id"`
	Handle    string       `json:"handle" firestore:"handle"`
	Secret    string       `json:"secret" firestore:"secret"`
	FirstName string       `json:"firstName" firestore:"firstName"`
	LastName  string       `json:"lastName" firestore:"lastName"`
	Age       int32        `json:"age" firestore:"age"`
	Country   Country      `json:"country" firestore:"country"`
	Blogs     []string     `json:"blogs" firestore:"blogs"`
	Comments  []CommentRef `json:"comments" firestore:"comments"`
	Upvotes   []UpvoteRef  `json:"upvotes" firestore:"upvotes"`
}

// Blog представляет пост. Комментарии и апвоуты живут в отдельных
// под-коллекциях blogs/<id>/comments и blogs/<id>/upvotes, а не внутри
// документа - поэтому их создание требует двух согласованных записей.
type Blog struct {
	ID        string `json:"id" firestore:"id"`
	Title     string `json:"title" firestore:"title"`
	Content   string `json:"content" firestore:"content"`
	Timestamp int64  `json:"timestamp" firestore:"timestamp"` // unix millis
	Author    string `json:"author" firestore:"author"`       // userID
}

// Comment представляет комментарий в под-коллекции блога.
type Comment struct {
	ID        string `json:"id" firestore:"id"`
	BlogID    string `json:"blogId" firestore:"blogId"`
	Content   string `json:"content" firestore:"content"`
	Commentor string `json:"commentor" firestore:"commentor"` // userID
	Timestamp int64  `json:"timestamp" firestore:"timestamp"`
}

// Upvote представляет апвоут в под-коллекции блога.
type Upvote struct {
	ID        string `json:"id" firestore:"id"`
	BlogID    string `json:"blogId" firestore:"blogId"`
	Upvoter   string `json:"upvoter" firestore:"upvoter"` // userID
	Timestamp int64  `json:"timestamp" firestore:"timestamp"`
}

// UpvoteFor возвращает ссылку на апвоут пользователя для блога, если она есть.
func (u *User) UpvoteFor(blogID string) (UpvoteRef, bool) {
	for _, ref := range u.Upvotes {
		if ref.BlogID == blogID {
			return ref, true
		}
	}
	return UpvoteRef{}, false
}

// HasUpvoted проверяет денормализованный список апвоутов пользователя.
func (u *User) HasUpvoted(blogID string) bool {
	_, ok := u.UpvoteFor(blogID)
	return ok
}
