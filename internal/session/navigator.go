package session

// Routes the session navigates to on its own.
const (
	RouteHome  = "/"
	RouteLogin = "/login"
)

// ChatRoute is the route of the direct conversation with userID.
func ChatRoute(userID string) string {
	return "/chat/" + userID
}

// Navigator moves the user to another view.
type Navigator interface {
	Navigate(route string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(route string)

func (f NavigatorFunc) Navigate(route string) { f(route) }
