package reply

import (
	"strings"

	"github.com/teslashibe/go-talkback/pkg/conversation"
)

// Category names the topic a fallback reply was chosen for.
type Category string

const (
	CategoryGreeting     Category = "greeting"
	CategoryMoodPositive Category = "mood-positive"
	CategoryMoodNegative Category = "mood-negative"
	CategoryMedia        Category = "media"
	CategoryFood         Category = "food"
	CategoryWork         Category = "work"
	CategoryWeather      Category = "weather"
	CategoryHobby        Category = "hobby"
	CategoryPlans        Category = "plans"
	CategoryDefault      Category = "default"
)

type fallbackRule struct {
	category Category
	keywords []string
	reply    conversation.Reply
}

func suggestions(beginner, intermediate, advanced string) []conversation.Suggestion {
	return []conversation.Suggestion{
		{Text: beginner, Level: conversation.LevelBeginner, Age: 5},
		{Text: intermediate, Level: conversation.LevelIntermediate, Age: 10},
		{Text: advanced, Level: conversation.LevelAdvanced, Age: 20},
	}
}

// Rules are checked in order; keywords match as plain substrings of the
// lowercased input, so "hi" also matches "this".
var fallbackRules = []fallbackRule{
	{
		category: CategoryGreeting,
		keywords: []string{"hello", "hi", "hey", "good morning", "good afternoon", "good evening"},
		reply: conversation.Reply{
			Text: "Hello! It's great to hear from you! How are you doing today?",
			Suggestions: suggestions(
				"I'm fine!",
				"I'm doing well, thank you for asking.",
				"I'm feeling great today! Thanks for asking. How about yourself?",
			),
		},
	},
	{
		category: CategoryMoodPositive,
		keywords: []string{"good", "great", "fine", "well", "happy", "excited"},
		reply: conversation.Reply{
			Text: "That's wonderful to hear! What made your day so good?",
			Suggestions: suggestions(
				"I had fun!",
				"I did something interesting today.",
				"I accomplished something I've been working on for a while.",
			),
		},
	},
	{
		category: CategoryMoodNegative,
		keywords: []string{"bad", "sad", "tired", "sick", "not good", "not well"},
		reply: conversation.Reply{
			Text: "Oh, I'm sorry to hear that. What happened? Would you like to talk about it?",
			Suggestions: suggestions(
				"I'm just tired.",
				"I didn't sleep well last night.",
				"It's been a challenging day, but I'm managing. Thanks for asking.",
			),
		},
	},
	{
		category: CategoryMedia,
		keywords: []string{"movie", "watch", "film", "show", "series", "netflix", "youtube"},
		reply: conversation.Reply{
			Text: "Oh, you watched something! What kind of movie or show was it?",
			Suggestions: suggestions(
				"It was fun!",
				"It was an action movie. Very exciting!",
				"It was a thought-provoking drama that really made me think.",
			),
		},
	},
	{
		category: CategoryFood,
		keywords: []string{"eat", "food", "lunch", "dinner", "breakfast", "hungry", "delicious", "cook"},
		reply: conversation.Reply{
			Text: "Food is always a great topic! What's your favorite thing to eat?",
			Suggestions: suggestions(
				"I like pizza!",
				"I really enjoy Korean food, especially bibimbap.",
				"I'm quite adventurous with food. I love trying new cuisines from different cultures.",
			),
		},
	},
	{
		category: CategoryWork,
		keywords: []string{"work", "job", "study", "school", "office", "busy", "meeting"},
		reply: conversation.Reply{
			Text: "I see! How is your work or study going these days?",
			Suggestions: suggestions(
				"It's okay.",
				"It's been pretty busy lately.",
				"It's challenging but rewarding. I'm learning a lot every day.",
			),
		},
	},
	{
		category: CategoryWeather,
		keywords: []string{"weather", "rain", "sun", "cold", "hot", "snow"},
		reply: conversation.Reply{
			Text: "The weather really affects our mood, doesn't it? What do you like to do on days like this?",
			Suggestions: suggestions(
				"I stay home.",
				"I usually watch movies at home.",
				"I enjoy cozying up with a good book and a cup of tea.",
			),
		},
	},
	{
		category: CategoryHobby,
		keywords: []string{"hobby", "play", "game", "music", "sport", "read", "travel"},
		reply: conversation.Reply{
			Text: "That sounds like a great hobby! How long have you been doing that?",
			Suggestions: suggestions(
				"Not long.",
				"I've been doing it for a few years.",
				"I've been passionate about it since I was young. It's become a big part of my life.",
			),
		},
	},
	{
		category: CategoryPlans,
		keywords: []string{"weekend", "plan", "tomorrow", "vacation", "holiday"},
		reply: conversation.Reply{
			Text: "Sounds interesting! What are you planning to do?",
			Suggestions: suggestions(
				"I'll rest.",
				"I'm planning to meet some friends.",
				"I have a few things planned, including catching up with old friends and maybe trying a new restaurant.",
			),
		},
	},
}

var defaultReply = conversation.Reply{
	Text: "That's interesting! Tell me more about it. What happened next?",
	Suggestions: suggestions(
		"It was nice.",
		"Well, let me explain a bit more about it.",
		"There's actually quite an interesting story behind it. Let me tell you.",
	),
}

// FallbackCategory returns the first category whose keywords appear in text.
func FallbackCategory(text string) Category {
	if r := matchRule(text); r != nil {
		return r.category
	}
	return CategoryDefault
}

// Fallback returns the canned reply for text. It never fails and always
// carries three suggestions, one per level.
func Fallback(text string) *conversation.Reply {
	src := defaultReply
	if r := matchRule(text); r != nil {
		src = r.reply
	}
	out := conversation.Reply{
		Text:        src.Text,
		Suggestions: make([]conversation.Suggestion, len(src.Suggestions)),
	}
	copy(out.Suggestions, src.Suggestions)
	return &out
}

func matchRule(text string) *fallbackRule {
	lower := strings.ToLower(text)
	for i := range fallbackRules {
		for _, kw := range fallbackRules[i].keywords {
			if strings.Contains(lower, kw) {
				return &fallbackRules[i]
			}
		}
	}
	return nil
}
