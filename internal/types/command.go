package types

import (
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/language"
)

// Command is what a provider adapter decodes from a platform event:
// either an ExecuteCommand or a RouteMessage.
type Command interface {
	Source() Route
	isCommand()
}

type ExecuteCommand struct {
	Origin     Route        `validate:"required"`
	Locale     language.Tag `validate:"-"`
	MemberId   string       `validate:"required"`
	MemberName string
	Command    string       `validate:"required"`
	Args       string
}

func (c ExecuteCommand) Source() Route { return c.Origin }
func (ExecuteCommand) isCommand()      {}

type RouteMessage struct {
	Origin   Route          `validate:"required"`
	MemberId string         `validate:"required"`
	Locale   language.Tag   `validate:"-"`
	Payload  MessagePayload `validate:"required"`
	// ToMember is the raw id of an explicitly addressed member, empty when
	// the message is a bare reply.
	ToMember string
}

func (m RouteMessage) Source() Route { return m.Origin }
func (RouteMessage) isCommand()      {}

// ParseCommandLine splits "/join foo" into "join" and "foo". A bot
// mention suffix ("/join@kite_bot") is dropped.
func ParseCommandLine(line string) (command, args string, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", "", false
	}
	command, args, _ = strings.Cut(line[1:], " ")
	command, _, _ = strings.Cut(command, "@")
	return strings.ToLower(command), strings.TrimSpace(args), command != ""
}

var channelNameChars = regexp.MustCompile(`^[\p{L}\p{N}_-]+$`)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterValidation("channelname", func(fl validator.FieldLevel) bool {
			return channelNameChars.MatchString(fl.Field().String())
		})
	})
	return validate
}

// ValidateChannelName accepts 8 to 32 letters, digits, '_' or '-'.
func ValidateChannelName(name string) error {
	if err := validatorInstance().Var(name, "required,min=8,max=32,channelname"); err != nil {
		return Validationf("Invalid channel name %q: use 8 to 32 letters, digits, '_' or '-'", name)
	}
	return nil
}

// ValidateCommand checks the fields every adapter must populate.
func ValidateCommand(c Command) error {
	if err := validatorInstance().Struct(c); err != nil {
		return &KiteError{Kind: KindValidation, Message: "Invalid command", Err: err}
	}
	return nil
}
