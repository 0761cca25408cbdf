package models

// Identity описывает субъект запроса: авторизованного пользователя
// или анонимную сессию. Для анонимной сессии UserUID пуст, а SessionID
// содержит идентификатор, выданный фронтендом.
type Identity struct {
	UserUID   string // UID пользователя из JWT, пуст для анонима
	SessionID string // Идентификатор анонимной сессии
	Role      string // Роль пользователя, admin или user
}

// IsAnonymous сообщает, что запрос пришёл без авторизованного пользователя.
func (i Identity) IsAnonymous() bool {
	return i.UserUID == ""
}

// Key возвращает ключ владения, под которым пишутся покупки и квоты.
// Для пользователя это его UID, для анонима — идентификатор сессии.
func (i Identity) Key() string {
	if i.UserUID != "" {
		return i.UserUID
	}
	return i.SessionID
}

// IsAdmin проверяет роль оператора.
func (i Identity) IsAdmin() bool {
	return i.Role == "admin"
}
