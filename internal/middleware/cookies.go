package middleware

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/encryptcookie"
	"github.com/valyala/fasthttp"

	"github.com/calipso/calipso/internal/server"
)

const contextKeyCookies = "_calipso_cookies"

// CookieParser parses request cookies into a map available through Cookies.
// With a non-empty secret, cookie values are decrypted on the way in and
// encrypted on the way out; values that fail to decrypt are dropped.
func CookieParser(secret string) server.Stage {
	key := ""
	if secret != "" {
		key = cookieKey(secret)
	}

	return server.Stage{
		Tag: server.TagCookieParser,
		Handler: func(c fiber.Ctx) error {
			if key != "" {
				decryptRequestCookies(c, key)
			}

			cookies := make(map[string]string)
			for name, value := range c.Request().Header.Cookies() {
				cookies[string(name)] = string(value)
			}
			c.Locals(contextKeyCookies, cookies)

			err := c.Next()
			if key == "" {
				return err
			}
			return errors.Join(err, encryptResponseCookies(c, key))
		},
	}
}

// Cookies returns the cookies parsed by the cookie stage.
func Cookies(c fiber.Ctx) map[string]string {
	if cookies, ok := c.Locals(contextKeyCookies).(map[string]string); ok {
		return cookies
	}
	return nil
}

// cookieKey derives a 32 byte AES key from the configured secret.
func cookieKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func decryptRequestCookies(c fiber.Ctx, key string) {
	type pair struct{ name, value string }
	var sealed []pair
	for name, value := range c.Request().Header.Cookies() {
		sealed = append(sealed, pair{string(name), string(value)})
	}
	for _, p := range sealed {
		plain, err := encryptcookie.DecryptCookie(p.name, p.value, key)
		if err != nil {
			c.Request().Header.DelCookie(p.name)
			continue
		}
		c.Request().Header.SetCookie(p.name, plain)
	}
}

func encryptResponseCookies(c fiber.Ctx, key string) error {
	var names []string
	for name := range c.Response().Header.Cookies() {
		names = append(names, string(name))
	}
	for _, name := range names {
		cookie := fasthttp.Cookie{}
		cookie.SetKey(name)
		if !c.Response().Header.Cookie(&cookie) {
			continue
		}
		sealed, err := encryptcookie.EncryptCookie(name, string(cookie.Value()), key)
		if err != nil {
			return err
		}
		cookie.SetValue(sealed)
		c.Response().Header.SetCookie(&cookie)
	}
	return nil
}
