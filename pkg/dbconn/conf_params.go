package dbconn

import (
	"strconv"

	"github.com/go-ini/ini"
)

// confParams abstracts parameters loaded from a MySQL option file. Getters
// return "" when the receiver is nil or the parameter is not defined, so
// DBConfig defaults apply.
type confParams struct {
	host, database, user, tlsMode string
	password                      *string
	port                          int
}

func (c *confParams) GetHost() string {
	if c == nil || c.host == "" {
		return ""
	}
	if c.port != 0 {
		return c.host + ":" + strconv.Itoa(c.port)
	}
	return c.host
}

func (c *confParams) GetDatabase() string {
	if c == nil {
		return ""
	}
	return c.database
}

func (c *confParams) GetUser() string {
	if c == nil {
		return ""
	}
	return c.user
}

func (c *confParams) GetPassword() string {
	if c == nil || c.password == nil {
		return ""
	}
	return *c.password
}

func (c *confParams) GetTLSMode() string {
	if c == nil {
		return ""
	}
	return c.tlsMode
}

// LoadOptionFile attempts to load a confParams struct from a path to an ini
// file. An empty path returns empty parameters.
func LoadOptionFile(confFilePath string) (*confParams, error) {
	confParams := &confParams{}

	if confFilePath == "" {
		return confParams, nil
	}

	creds, err := ini.Load(confFilePath)
	if err != nil {
		return nil, err
	}

	if creds.HasSection("client") {
		clientSection := creds.Section("client")
		confParams.host = clientSection.Key("host").String()
		confParams.database = clientSection.Key("database").String()
		confParams.user = clientSection.Key("user").String()
		confParams.tlsMode = clientSection.Key("tls-mode").String()
		confParams.port = clientSection.Key("port").MustInt()

		if clientSection.HasKey("password") {
			pw := clientSection.Key("password").String()
			confParams.password = &pw
		}
	}

	return confParams, nil
}
