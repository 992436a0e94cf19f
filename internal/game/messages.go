package game

import "fmt"

// Operator copy for every message the engine sends. Content here is data;
// the admin team owns the wording.

func questionBody(number int, text string) string {
	return fmt.Sprintf("Q%d: %s", number, text)
}

func gameStartingBody() string {
	return "🎮 The game is starting now! First question coming up..."
}

func answerReceivedBody() string {
	return "✅ Answer received! Hang tight for the results."
}

func answerLockedBody() string {
	return "🔒 Your first answer was locked in."
}

func eliminatedLockedBody() string {
	return "You've been eliminated this game, so answers are locked. Stick around for the results!"
}

func tryAgainBody() string {
	return "⚠️ We couldn't record that answer. Please try again."
}

func betweenQuestionsBody() string {
	return "⏳ Hang tight, the next question is coming up."
}

func surviveBody(correctAnswer string) string {
	return fmt.Sprintf("✅ Correct Answer: %s\n\n🎉 You're still in!", correctAnswer)
}

func eliminatedBody(correctAnswer string) string {
	return fmt.Sprintf("❌ Correct Answer: %s\n\n💀 You're out this game. Stick around for the next one!", correctAnswer)
}

func winnerSingleBody(pool float64) string {
	return fmt.Sprintf("🏆 Game over — we have a winner!\n\n💰 Prize: $%.2f\n\n🎉 Congratulations, it's you!", pool)
}

func spectatorSingleBody(pool float64) string {
	return fmt.Sprintf("🏆 Game over — we have a winner!\n\n💰 Prize: $%.2f\n\nThanks for playing, see you next game!", pool)
}

func winnerManyBody(winners int, pool, each float64) string {
	return fmt.Sprintf("🏆 Game over!\n\nWinners: %d\nPrize pool: $%.2f\nEach winner receives: $%.2f\n\n🎉 Congratulations, you're one of them!", winners, pool, each)
}

func spectatorManyBody(winners int, pool, each float64) string {
	return fmt.Sprintf("🏆 Game over!\n\nWinners: %d\nPrize pool: $%.2f\nEach winner receives: $%.2f\n\nThanks for playing, see you next game!", winners, pool, each)
}

func noWinnerBody() string {
	return "🏁 Game over! Nobody survived the final question this time. Better luck next game!"
}

func apologyBody() string {
	return "😔 Sorry, something went wrong on our side and this game has been cancelled. Stay tuned for the next one!"
}
